package ingestion

import (
	"testing"
)

func TestBuildCommitSetP2GroupsByLot(t *testing.T) {
	rows := []*StagingRow{
		{ID: "r1", RowIndex: 1, Parsed: map[string]string{"Lot No": "238-2_01", "winder_number": "1", "分條時間": "114/09/02"}},
		{ID: "r2", RowIndex: 2, Parsed: map[string]string{"Lot No": "238-2_01", "winder_number": "2", "分條時間": "114/09/02"}},
		{ID: "r3", RowIndex: 3, Parsed: map[string]string{"Lot No": "239-1_01", "winder_number": "1", "分條時間": "114/09/03"}},
	}

	set, err := BuildCommitSet("t-1", TableP2, DefaultBindings(TableP2), rows)
	if err != nil {
		t.Fatalf("BuildCommitSet: %v", err)
	}

	if len(set.P2) != 2 {
		t.Fatalf("P2 commits = %d, want 2 lots", len(set.P2))
	}

	first := set.P2[0]
	if first.LotNorm != 238201 || len(first.Items) != 2 {
		t.Errorf("first lot = {%d items:%d}, want {238201 2}", first.LotNorm, len(first.Items))
	}

	if first.Items[0].WinderNumber != 1 || first.Items[1].WinderNumber != 2 {
		t.Errorf("winders = %d, %d, want 1, 2", first.Items[0].WinderNumber, first.Items[1].WinderNumber)
	}

	// ROC slitting date lands as Gregorian.
	if first.ProductionDate == nil || first.ProductionDate.Format("2006-01-02") != "2025-09-02" {
		t.Errorf("production date = %v, want 2025-09-02", first.ProductionDate)
	}

	// Lot order follows first appearance.
	if set.P2[1].LotNorm != 239101 {
		t.Errorf("second lot = %d, want 239101", set.P2[1].LotNorm)
	}
}

func TestBuildCommitSetP3(t *testing.T) {
	rows := []*StagingRow{
		{ID: "r1", RowIndex: 1, Parsed: map[string]string{
			"lot_no":         "238-2_01_3",
			"product_id":     "20250902_P24_238-2_301",
			"year-month-day": "2025-09-02",
		}},
		{ID: "r2", RowIndex: 2, Parsed: map[string]string{
			"lot_no": "238-2_01",
		}},
	}

	set, err := BuildCommitSet("t-1", TableP3, DefaultBindings(TableP3), rows)
	if err != nil {
		t.Fatalf("BuildCommitSet: %v", err)
	}

	// The roll-collector suffix is stripped, so both rows share one lot.
	if len(set.P3) != 1 {
		t.Fatalf("P3 commits = %d, want 1 lot", len(set.P3))
	}

	commit := set.P3[0]
	if commit.LotNorm != 238201 || len(commit.Items) != 2 {
		t.Fatalf("lot = {%d items:%d}, want {238201 2}", commit.LotNorm, len(commit.Items))
	}

	withSuffix := commit.Items[0]
	if withSuffix.RowNo != 1 || withSuffix.ProductID != "20250902_P24_238-2_301" {
		t.Errorf("item 1 = {row_no:%d product_id:%q}", withSuffix.RowNo, withSuffix.ProductID)
	}

	if withSuffix.SourceWinder == nil || *withSuffix.SourceWinder != 3 {
		t.Errorf("source winder = %v, want 3", withSuffix.SourceWinder)
	}

	bare := commit.Items[1]
	if bare.RowNo != 2 || bare.ProductID != "" || bare.SourceWinder != nil {
		t.Errorf("item 2 = {row_no:%d product_id:%q winder:%v}, want bare item", bare.RowNo, bare.ProductID, bare.SourceWinder)
	}

	if bare.ProductionDate != nil {
		t.Errorf("missing date = %v, want nil", bare.ProductionDate)
	}
}

func TestBuildCommitSetBadWinder(t *testing.T) {
	rows := []*StagingRow{
		{ID: "r1", RowIndex: 1, Parsed: map[string]string{"Lot No": "238-2_01", "winder_number": "first"}},
	}

	if _, err := BuildCommitSet("t-1", TableP2, DefaultBindings(TableP2), rows); err == nil {
		t.Error("BuildCommitSet accepted a non-numeric winder")
	}
}

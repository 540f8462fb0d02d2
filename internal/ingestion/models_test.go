package ingestion

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{name: "uploaded to parsing", from: StatusUploaded, to: StatusParsing},
		{name: "parsing to validating", from: StatusParsing, to: StatusValidating},
		{name: "validating to ready", from: StatusValidating, to: StatusReady},
		{name: "ready to committing", from: StatusReady, to: StatusCommitting},
		{name: "committing to completed", from: StatusCommitting, to: StatusCompleted},
		{name: "committing to failed", from: StatusCommitting, to: StatusFailed},
		{name: "validating to failed", from: StatusValidating, to: StatusFailed},
		{name: "ready to cancelled", from: StatusReady, to: StatusCancelled},
		{name: "uploaded to cancelled", from: StatusUploaded, to: StatusCancelled},

		{name: "uploaded skips to validating", from: StatusUploaded, to: StatusValidating, wantErr: true},
		{name: "committing to cancelled", from: StatusCommitting, to: StatusCancelled, wantErr: true},
		{name: "ready to failed", from: StatusReady, to: StatusFailed, wantErr: true},
		{name: "completed is terminal", from: StatusCompleted, to: StatusCommitting, wantErr: true},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusParsing, wantErr: true},
		{name: "failed is terminal", from: StatusFailed, to: StatusReady, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("ValidateTransition(%s, %s) = %v, want ErrInvalidTransition", tt.from, tt.to, err)
				}
			} else if err != nil {
				t.Errorf("ValidateTransition(%s, %s) = %v, want nil", tt.from, tt.to, err)
			}
		})
	}
}

func TestIsCancellable(t *testing.T) {
	cancellable := []JobStatus{StatusUploaded, StatusParsing, StatusValidating, StatusReady}
	for _, status := range cancellable {
		if !status.IsCancellable() {
			t.Errorf("%s.IsCancellable() = false, want true", status)
		}
	}

	fixed := []JobStatus{StatusCommitting, StatusCompleted, StatusFailed, StatusCancelled}
	for _, status := range fixed {
		if status.IsCancellable() {
			t.Errorf("%s.IsCancellable() = true, want false", status)
		}
	}
}

func TestStageProgress(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		done   int
		total  int
		want   int
	}{
		{name: "parsing start", status: StatusParsing, done: 0, total: 100, want: 0},
		{name: "parsing halfway", status: StatusParsing, done: 50, total: 100, want: 20},
		{name: "parsing done", status: StatusParsing, done: 100, total: 100, want: 40},
		{name: "validating start", status: StatusValidating, done: 0, total: 100, want: 40},
		{name: "validating done", status: StatusValidating, done: 100, total: 100, want: 90},
		{name: "ready pins 100", status: StatusReady, done: 0, total: 0, want: 100},
		{name: "completed pins 100", status: StatusCompleted, done: 0, total: 0, want: 100},
		{name: "overshoot clamps", status: StatusParsing, done: 150, total: 100, want: 40},
		{name: "empty job parsing", status: StatusParsing, done: 0, total: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StageProgress(tt.status, tt.done, tt.total); got != tt.want {
				t.Errorf("StageProgress(%s, %d, %d) = %d, want %d", tt.status, tt.done, tt.total, got, tt.want)
			}
		})
	}
}

func TestParseTableCode(t *testing.T) {
	for _, valid := range []string{"P1", "P2", "P3"} {
		code, err := ParseTableCode(valid)
		if err != nil || string(code) != valid {
			t.Errorf("ParseTableCode(%q) = (%q, %v)", valid, code, err)
		}
	}

	for _, invalid := range []string{"", "p1", "P4", "P12"} {
		if _, err := ParseTableCode(invalid); !errors.Is(err, ErrInvalidTableCode) {
			t.Errorf("ParseTableCode(%q) = %v, want ErrInvalidTableCode", invalid, err)
		}
	}
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}

	f.messages = append(f.messages, msgs...)

	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true

	return nil
}

func enabledPublisher(w writer) *Publisher {
	return &Publisher{
		writer:  w,
		methods: map[string]bool{"POST": true, "DELETE": true},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("AUDIT_EVENTS_ENABLED", "")
	t.Setenv("AUDIT_EVENTS_BROKERS", "")
	t.Setenv("AUDIT_EVENTS_TOPIC", "")
	t.Setenv("AUDIT_EVENTS_METHODS", "")

	cfg := LoadConfig()

	if cfg.Enabled {
		t.Error("Enabled = true, want false by default")
	}

	if cfg.Topic != defaultTopic {
		t.Errorf("Topic = %q, want %q", cfg.Topic, defaultTopic)
	}

	if len(cfg.Methods) != 4 {
		t.Errorf("Methods = %v, want the four mutating methods", cfg.Methods)
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled needs nothing", cfg: Config{Enabled: false}, wantErr: false},
		{name: "enabled without brokers", cfg: Config{Enabled: true, Topic: "t"}, wantErr: true},
		{name: "enabled without topic", cfg: Config{Enabled: true, Brokers: []string{"b:9092"}, Topic: " "}, wantErr: true},
		{
			name:    "enabled and complete",
			cfg:     Config{Enabled: true, Brokers: []string{"b:9092"}, Topic: "t"},
			wantErr: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDisabledPublisherDropsEverything(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	publisher, err := NewPublisher(&Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	if publisher.Audits("POST") {
		t.Error("Audits(POST) = true on a disabled publisher")
	}

	// Publish and Close must be safe no-ops.
	publisher.Publish(context.Background(), Event{Method: "POST", Path: "/api/import/jobs"})

	if err := publisher.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestAuditsMatchesConfiguredMethods(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	publisher := enabledPublisher(&fakeWriter{})

	if !publisher.Audits("post") {
		t.Error("Audits(post) = false, want case-insensitive match")
	}

	if publisher.Audits("GET") {
		t.Error("Audits(GET) = true, want false")
	}
}

func TestPublishWritesJSONKeyedByTenant(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fake := &fakeWriter{}
	publisher := enabledPublisher(fake)

	publisher.Publish(context.Background(), Event{
		TenantID:      "tenant-a",
		KeyID:         "key-1",
		Method:        "POST",
		Path:          "/api/import/jobs",
		Status:        201,
		CorrelationID: "corr-1",
	})

	if len(fake.messages) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(fake.messages))
	}

	message := fake.messages[0]
	if string(message.Key) != "tenant-a" {
		t.Errorf("message key = %q, want tenant-a", message.Key)
	}

	var decoded Event
	if err := json.Unmarshal(message.Value, &decoded); err != nil {
		t.Fatalf("message body is not JSON: %v", err)
	}

	if decoded.Path != "/api/import/jobs" || decoded.Status != 201 {
		t.Errorf("decoded event = %+v", decoded)
	}

	if decoded.Time.IsZero() {
		t.Error("event time was not defaulted")
	}

	if time.Since(decoded.Time) > time.Minute {
		t.Errorf("event time %v is stale", decoded.Time)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fake := &fakeWriter{err: errors.New("broker unreachable")}
	publisher := enabledPublisher(fake)

	// Must not panic or surface the error.
	publisher.Publish(context.Background(), Event{Method: "DELETE", Path: "/api/import/jobs/1"})
}

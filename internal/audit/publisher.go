// Package audit publishes best-effort audit events for mutating API
// requests to Kafka. A publish failure is logged and never fails the
// request that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linetrace-io/linetrace/internal/config"
)

const (
	defaultTopic        = "linetrace.audit"
	defaultWriteTimeout = 5 * time.Second
)

type (
	// Config holds audit publisher configuration.
	Config struct {
		Enabled bool
		Brokers []string
		Topic   string
		Methods []string
	}

	// Event is one audit record. Marshals to the JSON message body.
	Event struct {
		Time          time.Time `json:"time"`
		TenantID      string    `json:"tenant_id,omitempty"`
		KeyID         string    `json:"key_id,omitempty"`
		Username      string    `json:"username,omitempty"`
		Method        string    `json:"method"`
		Path          string    `json:"path"`
		Status        int       `json:"status"`
		CorrelationID string    `json:"correlation_id,omitempty"`
		RemoteAddr    string    `json:"remote_addr,omitempty"`
	}

	// writer is the kafka surface the publisher needs. Satisfied by
	// *kafka.Writer.
	writer interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Publisher emits audit events for the configured methods. The zero
	// value and a disabled-config publisher both drop every event.
	Publisher struct {
		writer  writer
		methods map[string]bool
		logger  *slog.Logger
	}
)

// LoadConfig loads audit configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Enabled: config.GetEnvBool("AUDIT_EVENTS_ENABLED", false),
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("AUDIT_EVENTS_BROKERS", "")),
		Topic:   config.GetEnvStr("AUDIT_EVENTS_TOPIC", defaultTopic),
		Methods: config.ParseCommaSeparatedList(config.GetEnvStr("AUDIT_EVENTS_METHODS", "POST,PUT,PATCH,DELETE")),
	}
}

// Validate checks the audit configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.Brokers) == 0 {
		return fmt.Errorf("audit events enabled but no brokers configured")
	}

	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("audit events enabled but topic is empty")
	}

	return nil
}

// NewPublisher creates a Publisher. A disabled config yields a no-op
// publisher so callers never need a nil check.
func NewPublisher(cfg *Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	publisher := &Publisher{logger: logger}
	if !cfg.Enabled {
		return publisher, nil
	}

	publisher.methods = make(map[string]bool, len(cfg.Methods))
	for _, method := range cfg.Methods {
		publisher.methods[strings.ToUpper(strings.TrimSpace(method))] = true
	}

	publisher.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: defaultWriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	logger.Info("audit publisher enabled",
		"topic", cfg.Topic,
		"brokers", len(cfg.Brokers),
		"methods", cfg.Methods)

	return publisher, nil
}

// Audits reports whether requests with the given method are audited.
func (p *Publisher) Audits(method string) bool {
	return p.writer != nil && p.methods[strings.ToUpper(method)]
}

// Publish emits one audit event. Failures are logged, never returned.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p.writer == nil {
		return
	}

	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal audit event", "error", err, "path", event.Path)

		return
	}

	message := kafka.Message{
		Key:   []byte(event.TenantID),
		Value: body,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.Error("failed to publish audit event",
			"error", err,
			"method", event.Method,
			"path", event.Path,
			"correlation_id", event.CorrelationID)
	}
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}

	return p.writer.Close()
}

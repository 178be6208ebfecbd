package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"floodbuddy/internal/config"
	"floodbuddy/internal/models"
)

const TypeReportCreated = "report.created"

// ReportEvent is the record written to the report topic.
type ReportEvent struct {
	Type        string        `json:"type"`
	Report      models.Report `json:"report"`
	Label       string        `json:"label"`
	Color       string        `json:"color"`
	PublishedAt time.Time     `json:"publishedAt"`
}

type Publisher interface {
	PublishReport(ctx context.Context, event ReportEvent) error
	Close() error
}

// KafkaPublisher writes report events keyed by report id, so every event
// for one report lands on the same partition.
type KafkaPublisher struct {
	writer *kafkago.Writer
	log    zerolog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, log zerolog.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{
		writer: w,
		log:    log.With().Str("component", "kafka_publisher").Str("topic", cfg.Topic).Logger(),
	}
}

func (p *KafkaPublisher) PublishReport(ctx context.Context, event ReportEvent) error {
	msg, err := reportMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report %s: %w", event.Report.ID, err)
	}
	p.log.Debug().Str("report_id", event.Report.ID).Msg("report event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func reportMessage(event ReportEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Report.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Label)},
			{Key: "published_at", Value: []byte(event.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}

// NewReportEvent fills the display fields from the severity table.
func NewReportEvent(report models.Report, now time.Time) ReportEvent {
	return ReportEvent{
		Type:        TypeReportCreated,
		Report:      report,
		Label:       report.Severity.Label(),
		Color:       report.Severity.MarkerColor(),
		PublishedAt: now.UTC(),
	}
}

// NopPublisher drops events; used when kafka.enabled is false.
type NopPublisher struct {
	log zerolog.Logger
}

func NewNopPublisher(log zerolog.Logger) *NopPublisher {
	return &NopPublisher{log: log.With().Str("component", "kafka_publisher").Logger()}
}

func (p *NopPublisher) PublishReport(_ context.Context, event ReportEvent) error {
	p.log.Debug().Str("report_id", event.Report.ID).Msg("kafka disabled, report event skipped")
	return nil
}

func (p *NopPublisher) Close() error { return nil }

// Package events publishes response status transitions.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/joelkehle/insight-pipeline/internal/response"
)

// Transition is emitted after a status change was persisted.
type Transition struct {
	ResponseID      string          `json:"response_id"`
	CampaignID      string          `json:"campaign_id,omitempty"`
	QuestionnaireID string          `json:"questionnaire_id"`
	Stage           string          `json:"stage,omitempty"`
	From            response.Status `json:"from"`
	To              response.Status `json:"to"`
	Error           string          `json:"error,omitempty"`
	At              time.Time       `json:"at"`
}

// FromResponse builds the event for r having moved from prev.
func FromResponse(r *response.Response, stage string, prev response.Status, at time.Time) Transition {
	return Transition{
		ResponseID:      r.ID,
		CampaignID:      r.CampaignID,
		QuestionnaireID: r.QuestionnaireID,
		Stage:           stage,
		From:            prev,
		To:              r.Status,
		Error:           r.ProcessingError,
		At:              at.UTC(),
	}
}

type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes transitions to Kafka keyed by response id, or only logs
// them when Kafka is disabled.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	log     zerolog.Logger
	observe func(topic string, err error)
}

func New(cfg Config, log zerolog.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("kafka disabled, transitions are logged only")
		return &Publisher{topic: cfg.Topic, log: log}
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka publisher initialized")
	return &Publisher{writer: w, topic: cfg.Topic, enabled: true, log: log}
}

// OnPublish registers a callback invoked after every publish attempt.
func (p *Publisher) OnPublish(fn func(topic string, err error)) {
	p.observe = fn
}

func (p *Publisher) Publish(ctx context.Context, t Transition) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	p.log.Debug().Str("topic", p.topic).Str("response_id", t.ResponseID).RawJSON("payload", payload).Msg("publishing transition")
	if !p.enabled || p.writer == nil {
		p.record(nil)
		return nil
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.ResponseID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("response.status_changed")},
			{Key: "status", Value: []byte(t.To)},
		},
	})
	p.record(err)
	if err != nil {
		p.log.Error().Err(err).Str("topic", p.topic).Str("response_id", t.ResponseID).Msg("publish transition failed")
	}
	return err
}

func (p *Publisher) record(err error) {
	if p.observe != nil {
		p.observe(p.topic, err)
	}
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

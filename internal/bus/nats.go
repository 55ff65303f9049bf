package bus

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"viewpulse/internal/logger"
	"viewpulse/internal/metrics"
	"viewpulse/internal/model"
)

type Publisher struct {
	Conn    *nats.Conn
	Subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("viewpulse-publisher"))
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = SubjectAlertRecorded
	}
	return &Publisher{Conn: conn, Subject: subject}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

func (p *Publisher) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	if err := p.Publish(p.Subject, NewAlertEvent(rec)); err != nil {
		metrics.EventPublishErrors.WithLabelValues("nats").Inc()
		return err
	}
	return nil
}

type Subscriber struct {
	Conn   *nats.Conn
	logger zerolog.Logger
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.Name("viewpulse-worker"))
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn, logger: logger.WithComponent("nats")}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

// Subscribe calls handler for every well formed event on subject. Malformed
// payloads are logged and dropped.
func (s *Subscriber) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		evt, err := decodeEvent(msg.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
			return
		}
		handler(evt)
	})
}

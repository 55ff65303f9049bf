package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"viewpulse/internal/logger"
	"viewpulse/internal/metrics"
	"viewpulse/internal/model"
	"viewpulse/internal/notify"
	"viewpulse/internal/storage"
)

type Kind int

const (
	KindNormal Kind = iota
	// KindTest skips the cooldown check and marks records as tests.
	KindTest
)

func (k Kind) String() string {
	if k == KindTest {
		return "test"
	}
	return "normal"
}

// AlertSink receives every persisted alert record.
type AlertSink interface {
	PublishAlert(ctx context.Context, rec model.AlertRecord) error
}

type Request struct {
	Kind    Kind
	Item    model.TrackedItem
	Tier    model.Tier
	Rate    int64
	Message string
}

type Result struct {
	Suppressed bool                `json:"suppressed"`
	Delivered  int                 `json:"delivered"`
	Failed     int                 `json:"failed"`
	Records    []model.AlertRecord `json:"records"`
}

func (r Result) Attempts() int {
	return r.Delivered + r.Failed
}

const recordTimeout = 5 * time.Second

type DispatcherConfig struct {
	SendTimeout time.Duration
	Sink        AlertSink
	Now         func() time.Time
}

type Dispatcher struct {
	dedupe      *Deduplicator
	senders     *notify.Registry
	log         storage.AlertLog
	sink        AlertSink
	sendTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

func NewDispatcher(dedupe *Deduplicator, senders *notify.Registry, log storage.AlertLog, cfg DispatcherConfig) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		dedupe:      dedupe,
		senders:     senders,
		log:         log,
		sink:        cfg.Sink,
		sendTimeout: cfg.SendTimeout,
		now:         cfg.Now,
		logger:      logger.WithComponent("dispatcher"),
	}
}

// Dispatch sends the alert to every configured recipient of the item and
// records one AlertRecord per attempt. Send failures never stop the remaining
// sends. The returned error reports alert records that could not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if !req.Tier.Alerting() {
		return Result{}, fmt.Errorf("tier %s does not alert", req.Tier)
	}
	if req.Kind == KindNormal {
		unlock := d.dedupe.Lock(req.Item.ID, req.Tier)
		defer unlock()
		if !d.dedupe.ShouldSend(ctx, req.Item.ID, req.Tier) {
			d.logger.Debug().
				Str("item_id", req.Item.ID).
				Str("tier", req.Tier.String()).
				Msg("alert suppressed")
			return Result{Suppressed: true}, nil
		}
	}
	// Past the cooldown check the dispatch is committed: every attempt must be
	// sent and recorded even when the caller's deadline expires mid-way.
	return d.send(context.WithoutCancel(ctx), req)
}

func (d *Dispatcher) send(ctx context.Context, req Request) (Result, error) {
	message := req.Message
	if message == "" {
		message = RenderMessage(req.Item, req.Tier, req.Rate)
	}
	if req.Kind == KindTest {
		message = testPrefix + message
	}
	threshold := req.Item.ThresholdFor(req.Tier)

	var (
		result  Result
		logErrs []error
	)
	for _, channel := range model.Channels {
		for _, recipient := range req.Item.Recipients.For(channel) {
			outcome := d.attempt(ctx, req, channel, recipient, message)
			rec := model.AlertRecord{
				ID:        uuid.NewString(),
				ItemID:    req.Item.ID,
				Tier:      req.Tier,
				Channel:   channel,
				Recipient: recipient,
				Message:   message,
				Outcome:   outcome,
				IsTest:    req.Kind == KindTest,
				Rate:      req.Rate,
				Threshold: threshold,
				CreatedAt: d.now().UTC(),
			}
			if outcome == model.OutcomeDelivered {
				result.Delivered++
			} else {
				result.Failed++
			}
			metrics.AlertAttempts.WithLabelValues(string(channel), string(outcome), req.Kind.String()).Inc()

			if err := d.record(ctx, rec); err != nil {
				metrics.AlertLogErrors.Inc()
				d.logger.Error().Err(err).
					Str("item_id", rec.ItemID).
					Str("channel", string(channel)).
					Str("outcome", string(outcome)).
					Msg("failed to record alert attempt")
				logErrs = append(logErrs, err)
				continue
			}
			result.Records = append(result.Records, rec)
			d.publish(ctx, rec)
		}
	}
	if result.Attempts() == 0 {
		d.logger.Warn().Str("item_id", req.Item.ID).Msg("item has no recipients configured")
	}
	return result, errors.Join(logErrs...)
}

func (d *Dispatcher) attempt(ctx context.Context, req Request, channel model.Channel, recipient, message string) model.Outcome {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.senders.Send(sendCtx, channel, recipient, message); err != nil {
		d.logger.Warn().Err(err).
			Str("item_id", req.Item.ID).
			Str("tier", req.Tier.String()).
			Str("channel", string(channel)).
			Str("recipient", recipient).
			Msg("alert send failed")
		return model.OutcomeFailed
	}
	return model.OutcomeDelivered
}

func (d *Dispatcher) record(ctx context.Context, rec model.AlertRecord) error {
	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	return d.log.AppendAlert(recordCtx, rec)
}

func (d *Dispatcher) publish(ctx context.Context, rec model.AlertRecord) {
	if d.sink == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := d.sink.PublishAlert(publishCtx, rec); err != nil {
		d.logger.Warn().Err(err).Str("alert_id", rec.ID).Msg("failed to publish alert event")
	}
}

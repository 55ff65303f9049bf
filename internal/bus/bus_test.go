package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"viewpulse/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

type sinkFunc func(ctx context.Context, rec model.AlertRecord) error

func (f sinkFunc) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	return f(ctx, rec)
}

func sampleRecord() model.AlertRecord {
	return model.AlertRecord{
		ID:        "a1",
		ItemID:    "vid-1",
		Tier:      model.TierEmergency,
		Channel:   model.ChannelSMS,
		Recipient: "+15550100",
		Message:   "spike",
		Outcome:   model.OutcomeFailed,
		Rate:      120,
		Threshold: 80,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDecodeEvent(t *testing.T) {
	evt, err := decodeEvent([]byte(`{"item_id":" vid-1 "}`))
	require.NoError(t, err)
	require.Equal(t, "vid-1", evt.ItemID)

	_, err = decodeEvent([]byte(`{"item_id":""}`))
	require.Error(t, err)
	_, err = decodeEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestKafkaSinkKeysByItem(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	require.NoError(t, sink.PublishAlert(context.Background(), sampleRecord()))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "vid-1", string(w.msgs[0].Key))

	var evt AlertEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	require.Equal(t, "emergency", evt.Tier)
	require.Equal(t, "sms", evt.Channel)
	require.Equal(t, "failed", evt.Outcome)
	require.Equal(t, int64(80), evt.Threshold)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.Equal(t, 1, w.closed)
	require.ErrorIs(t, sink.PublishAlert(context.Background(), sampleRecord()), ErrSinkClosed)
}

func TestKafkaSinkWriteError(t *testing.T) {
	sink := &KafkaSink{writer: &fakeWriter{err: errors.New("leader not available")}}
	require.Error(t, sink.PublishAlert(context.Background(), sampleRecord()))
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "alerts"})
	require.Error(t, err)
	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "alerts"})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	calls := 0
	ok := sinkFunc(func(context.Context, model.AlertRecord) error { calls++; return nil })
	bad := sinkFunc(func(context.Context, model.AlertRecord) error { calls++; return errors.New("down") })

	err := MultiSink{bad, ok}.PublishAlert(context.Background(), sampleRecord())
	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.NoError(t, MultiSink{ok}.PublishAlert(context.Background(), sampleRecord()))
}

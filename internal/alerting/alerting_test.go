package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"viewpulse/internal/model"
	"viewpulse/internal/notify"
	"viewpulse/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu   sync.Mutex
	recs []model.AlertRecord
	err  error
}

func (s *recordingSink) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return s.err
}

type fixture struct {
	store    *storage.MemoryStore
	clock    *fakeClock
	email    *notify.MockSender
	chat     *notify.MockSender
	sms      *notify.MockSender
	sink     *recordingSink
	dispatch *Dispatcher
}

func newFixture() *fixture {
	f := &fixture{
		store: storage.NewMemoryStore(),
		clock: &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		email: notify.NewMockSender(model.ChannelEmail),
		chat:  notify.NewMockSender(model.ChannelChat),
		sms:   notify.NewMockSender(model.ChannelSMS),
		sink:  &recordingSink{},
	}
	dedupe := NewDeduplicator(f.store, DefaultCooldown, f.clock.Now)
	f.dispatch = NewDispatcher(dedupe, notify.NewRegistry(f.email, f.chat, f.sms), f.store, DispatcherConfig{
		SendTimeout: time.Second,
		Sink:        f.sink,
		Now:         f.clock.Now,
	})
	return f
}

func testItem() model.TrackedItem {
	return model.TrackedItem{
		ID:                 "vid-1",
		Title:              "Launch video",
		WarningThreshold:   30,
		EmergencyThreshold: 80,
		Status:             model.StatusActive,
		Recipients: model.Recipients{
			Email: []string{"a@example.com", "b@example.com"},
			Chat:  []string{"42"},
			SMS:   []string{"+15550100"},
		},
	}
}

func (f *fixture) alerts(t *testing.T) []model.AlertRecord {
	t.Helper()
	recs, err := f.store.ListAlerts(context.Background(), storage.AlertFilter{Limit: 1000})
	require.NoError(t, err)
	return recs
}

func TestDispatchRecordsOneAttemptPerRecipient(t *testing.T) {
	f := newFixture()
	item := testItem()

	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierEmergency, Rate: 95})
	require.NoError(t, err)
	require.False(t, res.Suppressed)
	require.Equal(t, 4, res.Delivered)
	require.Equal(t, 0, res.Failed)
	require.Len(t, res.Records, 4)

	order := []model.Channel{}
	for _, rec := range res.Records {
		order = append(order, rec.Channel)
		require.Equal(t, model.TierEmergency, rec.Tier)
		require.Equal(t, int64(95), rec.Rate)
		require.Equal(t, int64(80), rec.Threshold)
		require.False(t, rec.IsTest)
		require.NotEmpty(t, rec.ID)
		require.Equal(t, f.clock.Now(), rec.CreatedAt)
	}
	require.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelEmail, model.ChannelChat, model.ChannelSMS}, order)
	require.Len(t, f.alerts(t), 4)
	require.Len(t, f.sink.recs, 4)
	require.Contains(t, f.email.Sent()[0].Message, "Launch video")
}

func TestSecondEventInsideCooldownIsSuppressed(t *testing.T) {
	f := newFixture()
	item := testItem()

	_, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierEmergency, Rate: 90})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierEmergency, Rate: 120})
	require.NoError(t, err)
	require.True(t, res.Suppressed)
	require.Empty(t, res.Records)
	require.Len(t, f.alerts(t), 4)
	require.Len(t, f.email.Sent(), 2)
}

func TestCooldownIsPerTier(t *testing.T) {
	f := newFixture()
	item := testItem()

	_, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierEmergency, Rate: 90})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierWarning, Rate: 40})
	require.NoError(t, err)
	require.False(t, res.Suppressed)
	require.Len(t, res.Records, 4)
	require.Len(t, f.alerts(t), 8)
}

func TestCooldownExpires(t *testing.T) {
	f := newFixture()
	item := testItem()

	_, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierWarning, Rate: 40})
	require.NoError(t, err)

	f.clock.Advance(DefaultCooldown)
	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierWarning, Rate: 41})
	require.NoError(t, err)
	require.False(t, res.Suppressed)
	require.Len(t, f.alerts(t), 8)
}

func TestSendFailureDoesNotAbortOthers(t *testing.T) {
	f := newFixture()
	f.email.FailFor["a@example.com"] = true
	item := testItem()

	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierWarning, Rate: 35})
	require.NoError(t, err)
	require.Equal(t, 3, res.Delivered)
	require.Equal(t, 1, res.Failed)

	recs := f.alerts(t)
	require.Len(t, recs, 4)
	failed := 0
	for _, rec := range recs {
		if rec.Outcome == model.OutcomeFailed {
			failed++
			require.Equal(t, "a@example.com", rec.Recipient)
		}
	}
	require.Equal(t, 1, failed)
	require.Len(t, f.sms.Sent(), 1)
}

func TestMissingSenderRecordsFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	dedupe := NewDeduplicator(store, time.Minute, nil)
	d := NewDispatcher(dedupe, notify.NewRegistry(notify.NewMockSender(model.ChannelEmail)), store, DispatcherConfig{})

	res, err := d.Dispatch(context.Background(), Request{Item: testItem(), Tier: model.TierWarning, Rate: 31})
	require.NoError(t, err)
	require.Equal(t, 2, res.Delivered)
	require.Equal(t, 2, res.Failed)
}

func TestLookupFailureSuppresses(t *testing.T) {
	f := newFixture()
	f.store.FailOn("HasAlertSince", errors.New("connection refused"))

	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: testItem(), Tier: model.TierEmergency, Rate: 100})
	require.NoError(t, err)
	require.True(t, res.Suppressed)
	require.Empty(t, f.email.Sent())
	require.Empty(t, f.alerts(t))
}

func TestTestModeBypassesCooldown(t *testing.T) {
	f := newFixture()
	item := testItem()

	_, err := f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierEmergency, Rate: 100})
	require.NoError(t, err)

	res, err := f.dispatch.Dispatch(context.Background(), Request{Kind: KindTest, Item: item, Tier: model.TierEmergency, Message: "hello"})
	require.NoError(t, err)
	require.False(t, res.Suppressed)
	require.Len(t, res.Records, 4)
	for _, rec := range res.Records {
		require.True(t, rec.IsTest)
		require.Equal(t, "[TEST] hello", rec.Message)
	}

	// test records never start a cooldown
	f.clock.Advance(DefaultCooldown + time.Second)
	_, err = f.dispatch.Dispatch(context.Background(), Request{Kind: KindTest, Item: item, Tier: model.TierWarning})
	require.NoError(t, err)
	res, err = f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierWarning, Rate: 50})
	require.NoError(t, err)
	require.False(t, res.Suppressed)
}

func TestAppendFailureIsReported(t *testing.T) {
	f := newFixture()
	f.store.FailOn("AppendAlert", errors.New("disk full"))

	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: testItem(), Tier: model.TierWarning, Rate: 40})
	require.Error(t, err)
	require.True(t, storage.IsStorageError(err))
	require.Equal(t, 4, res.Delivered)
	require.Empty(t, res.Records)
	require.Empty(t, f.sink.recs)
}

// ctxCheckingLog rejects writes on a finished context like the SQL drivers do.
type ctxCheckingLog struct {
	*storage.MemoryStore
}

func (l ctxCheckingLog) AppendAlert(ctx context.Context, rec model.AlertRecord) error {
	if err := ctx.Err(); err != nil {
		return &storage.Error{Op: "append alert", Err: err}
	}
	return l.MemoryStore.AppendAlert(ctx, rec)
}

func TestDispatchOutlivesCallerDeadline(t *testing.T) {
	store := storage.NewMemoryStore()
	email := notify.NewMockSender(model.ChannelEmail)
	email.Delay = 40 * time.Millisecond
	log := ctxCheckingLog{store}
	dedupe := NewDeduplicator(log, DefaultCooldown, nil)
	dispatcher := NewDispatcher(dedupe, notify.NewRegistry(email), log, DispatcherConfig{SendTimeout: time.Second})

	item := testItem()
	item.Recipients = model.Recipients{Email: []string{"a@example.com", "b@example.com", "c@example.com"}}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	res, err := dispatcher.Dispatch(ctx, Request{Item: item, Tier: model.TierEmergency, Rate: 90})
	require.NoError(t, err)
	require.Equal(t, 3, res.Delivered)
	require.Zero(t, res.Failed)
	require.Len(t, email.Sent(), 3)

	recs, err := store.ListAlerts(context.Background(), storage.AlertFilter{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	found, err := store.HasAlertSince(context.Background(), item.ID, model.TierEmergency, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, found)
}

func TestPublishFailureIsIgnored(t *testing.T) {
	f := newFixture()
	f.sink.err = errors.New("nats: connection closed")

	res, err := f.dispatch.Dispatch(context.Background(), Request{Item: testItem(), Tier: model.TierWarning, Rate: 40})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)
}

func TestNormalTierIsRejected(t *testing.T) {
	f := newFixture()
	_, err := f.dispatch.Dispatch(context.Background(), Request{Item: testItem(), Tier: model.TierNormal})
	require.Error(t, err)
}

func TestConcurrentDispatchSendsOnce(t *testing.T) {
	f := newFixture()
	item := testItem()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.dispatch.Dispatch(context.Background(), Request{Item: item, Tier: model.TierEmergency, Rate: 100})
		}()
	}
	wg.Wait()
	require.Len(t, f.alerts(t), 4)
	require.Len(t, f.email.Sent(), 2)
}

func TestLockReleasesKeys(t *testing.T) {
	d := NewDeduplicator(storage.NewMemoryStore(), 0, nil)
	require.Equal(t, DefaultCooldown, d.Cooldown())
	unlock := d.Lock("x", model.TierWarning)
	other := d.Lock("x", model.TierEmergency)
	other()
	unlock()
	require.Empty(t, d.locks)
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(testItem(), model.TierWarning, 42)
	require.True(t, strings.HasPrefix(msg, "WARNING alert"))
	require.Contains(t, msg, "42 views")
	require.Contains(t, msg, "threshold 30")

	unnamed := testItem()
	unnamed.Title = ""
	require.Contains(t, RenderMessage(unnamed, model.TierEmergency, 90), `"vid-1"`)
}

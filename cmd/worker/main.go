package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"viewpulse/internal/alerting"
	"viewpulse/internal/api"
	"viewpulse/internal/bus"
	"viewpulse/internal/config"
	"viewpulse/internal/logger"
	"viewpulse/internal/notify"
	"viewpulse/internal/scheduler"
	"viewpulse/internal/source"
	"viewpulse/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("VIEWPULSE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info", false)
		logger.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	log := logger.WithComponent("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to connect to storage")
	}
	defer store.Close()

	if err := seedItems(ctx, store, cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to seed items")
	}

	sink, closeSinks, err := buildSink(cfg.Events)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure event sinks")
	}
	defer closeSinks()

	senders := buildSenders(cfg)
	dedupe := alerting.NewDeduplicator(store, cfg.Alerting.Cooldown, nil)
	dispatcher := alerting.NewDispatcher(dedupe, senders, store, alerting.DispatcherConfig{
		SendTimeout: cfg.Alerting.SendTimeout,
		Sink:        sink,
	})
	src := source.NewHTTPSource(cfg.Source.Endpoint, cfg.Source.APIKey, cfg.Source.Timeout)
	sched := scheduler.New(scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		Workers:      cfg.Scheduler.Workers,
		FetchTimeout: cfg.Scheduler.FetchTimeout,
		ItemTimeout:  cfg.Scheduler.ItemTimeout,
	}, store, store, src, dispatcher, nil)

	if cfg.Events.Triggers {
		subscriber, err := bus.NewSubscriber(cfg.Events.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer subscriber.Close()
		subscribeTriggers(ctx, subscriber, sched, log)
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(&api.Handler{
			Store:      store,
			Poller:     sched,
			Dispatcher: dispatcher,
			Timeout:    10 * time.Second,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("storage", cfg.Storage.Driver).
		Strs("channels", channelNames(senders)).
		Msg("viewpulse worker listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http server error")
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	store, err := storage.Open(connectCtx, storage.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		return nil, err
	}
	if err := store.Ping(connectCtx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func seedItems(ctx context.Context, store storage.ItemStore, cfg config.Config) error {
	for _, item := range cfg.Items {
		if err := store.UpsertItem(ctx, item); err != nil {
			return err
		}
	}
	if len(cfg.Items) > 0 {
		log := logger.WithComponent("worker")
		log.Info().Int("items", len(cfg.Items)).Msg("seeded tracked items")
	}
	return nil
}

func buildSenders(cfg config.Config) *notify.Registry {
	var senders []notify.Sender
	if email := cfg.Channels.Email; email.Enabled() {
		senders = append(senders, notify.NewEmailSender(notify.EmailConfig{
			Host:     email.Host,
			Port:     email.Port,
			Username: email.Username,
			Password: email.Password,
			From:     email.From,
			Subject:  email.Subject,
		}))
	}
	if chat := cfg.Channels.Chat; chat.Enabled() {
		senders = append(senders, &notify.ChatSender{
			Endpoint: chat.Endpoint,
			Token:    chat.Token,
			Timeout:  cfg.Alerting.SendTimeout,
		})
	}
	if sms := cfg.Channels.SMS; sms.Enabled() {
		senders = append(senders, &notify.SMSSender{
			Endpoint:   sms.Endpoint,
			AccountSID: sms.AccountSID,
			AuthToken:  sms.AuthToken,
			From:       sms.From,
			Timeout:    cfg.Alerting.SendTimeout,
		})
	}
	return notify.NewRegistry(senders...)
}

func buildSink(cfg config.EventsConfig) (alerting.AlertSink, func(), error) {
	var (
		sinks   bus.MultiSink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if cfg.HasSink("nats") {
		publisher, err := bus.NewPublisher(cfg.NATSURL, cfg.Subject)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, publisher)
		closers = append(closers, publisher.Close)
	}
	if cfg.HasSink("kafka") {
		kafkaSink, err := bus.NewKafkaSink(bus.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, kafkaSink)
		closers = append(closers, func() { _ = kafkaSink.Close() })
	}
	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}

func subscribeTriggers(ctx context.Context, sub *bus.Subscriber, sched *scheduler.Scheduler, log zerolog.Logger) {
	for _, subject := range bus.TriggerSubjects {
		_, err := sub.Subscribe(subject, func(evt bus.Event) {
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			res, err := sched.RunItem(runCtx, evt.ItemID)
			if err != nil {
				log.Warn().Err(err).Str("subject", subject).Str("item_id", evt.ItemID).Msg("triggered run failed")
				return
			}
			log.Debug().Str("subject", subject).Str("item_id", evt.ItemID).Str("stage", string(res.Stage)).Msg("triggered run complete")
		})
		if err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("failed to subscribe")
		}
	}
}

func channelNames(reg *notify.Registry) []string {
	var names []string
	for _, c := range reg.Channels() {
		names = append(names, string(c))
	}
	return names
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/cenkalti/backoff/v4"

	"lastmile/internal/broker/kafka"
	"lastmile/internal/config"
	httptransport "lastmile/internal/http"
	"lastmile/internal/http/handlers"
	"lastmile/internal/infra"
	"lastmile/internal/modules/dispatch"
	"lastmile/internal/modules/location"
	"lastmile/internal/modules/order"
	"lastmile/internal/notify"
)

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type components struct {
	orders   *order.Service
	hub      *dispatch.Hub
	tracker  *location.Tracker
	nearby   handlers.NearbyFinder
	verifier infra.TokenVerifier
	payments kafkaConsumer

	closers []func()
}

// close releases resources in reverse order of acquisition.
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg config.Config, log *slog.Logger) (app *components, err error) {
	app = &components{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	var store order.Store
	switch cfg.Store.Driver {
	case config.StoreMemory:
		store = order.NewMemoryStore()
	default:
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return app, err
		}
		app.closers = append(app.closers, db.Close)
		store = order.NewPgStore(db)
	}

	var fbApp *firebase.App
	if cfg.NeedsFirebase() {
		fbApp, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return app, err
		}
	}

	app.tracker = location.NewTracker()
	app.orders = order.NewService(store, app.tracker, log, order.Options{
		ReadAttempts:      cfg.Store.ReadAttempts,
		CASAttempts:       cfg.Store.CASAttempts,
		SideEffectTimeout: cfg.Store.SideEffectTimeout,
	})
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		app.orders.WithPublisher(kafka.NewStatusPublisher(producer, cfg.Kafka.StatusTopic))

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, cfg.Kafka.ConsumerGroup)
		app.closers = append(app.closers, func() { _ = consumer.Close() })
		app.payments = consumer
	}

	notifier, err := buildNotifier(ctx, cfg, fbApp, log, app)
	if err != nil {
		return app, err
	}
	app.orders.WithNotifier(notifier)

	app.hub = dispatch.NewHub(app.orders, app.tracker, log, dispatch.Options{OutboxSize: cfg.Hub.OutboxSize})

	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return app, err
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		geo := location.NewGeoIndex(rdb, cfg.Geo.SeenTTL)
		app.hub.WithDriverIndex(geo)
		app.nearby = geo
	}
	if cfg.Geo.FirebaseMirror {
		mirror, err := location.NewFirebaseIndex(ctx, fbApp, cfg.Geo.SeenTTL)
		if err != nil {
			return app, err
		}
		app.hub.WithDriverIndex(mirror)
		if app.nearby == nil {
			app.nearby = mirror
		}
	}

	switch cfg.Auth.Mode {
	case config.AuthDev:
		log.Warn("dev auth enabled; bearer tokens are trusted as role:id")
		app.verifier = infra.StaticVerifier{}
	default:
		app.verifier, err = infra.NewFirebaseVerifier(ctx, fbApp)
		if err != nil {
			return app, err
		}
	}

	// in-flight publishes and notifications drain before their clients close
	app.closers = append(app.closers, app.orders.Wait)
	return app, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, fbApp *firebase.App, log *slog.Logger, app *components) (notify.Notifier, error) {
	var out notify.Fanout
	for _, mode := range cfg.Notify.Modes {
		switch mode {
		case config.NotifyAMQP:
			n, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
			if err != nil {
				return nil, err
			}
			app.closers = append(app.closers, func() { _ = n.Close() })
			out = append(out, n)
		case config.NotifyFirebase:
			n, err := notify.NewFCMNotifier(ctx, fbApp)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		default:
			out = append(out, notify.NewLogNotifier(log))
		}
	}
	switch len(out) {
	case 0:
		return notify.NewLogNotifier(log), nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

type serveOpts struct {
	addr            string
	shutdownTimeout time.Duration
	writeTimeout    time.Duration

	onListen func(addr string)
}

func runServe(ctx context.Context, opts serveOpts, app *components, log *slog.Logger) error {
	srv := httptransport.NewServer(httptransport.ServerDeps{
		Orders:       app.orders,
		Hub:          app.hub,
		Tracker:      app.tracker,
		Nearby:       app.nearby,
		Verifier:     app.verifier,
		Log:          log,
		WriteTimeout: opts.writeTimeout,
	})

	lis, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpSrv := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", lis.Addr().String())
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
			return
		}
		httpErr <- nil
	}()

	if app.payments != nil {
		go runPaymentConsumer(ctx, app.payments, kafka.NewPaymentHandler(ctx, app.orders, log), consumerBackOff(), log)
	}

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		return err
	}

	timeout := opts.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	return ctx.Err()
}

var errConsumerExited = errors.New("consumer exited")

func consumerBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// runPaymentConsumer keeps the consumer running until ctx ends. A failed
// handler leaves its message uncommitted, so the restarted consumer fetches
// it again.
func runPaymentConsumer(ctx context.Context, c kafkaConsumer, handler func(key, value []byte) error, b backoff.BackOff, log *slog.Logger) {
	op := func() error {
		log.Info("payment consumer started")
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errConsumerExited
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		log.Warn("payment consumer stopped, restarting", "err", err, "retry_in", wait)
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(b, ctx), onRetry)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/joelkehle/insight-pipeline/internal/config"
	"github.com/joelkehle/insight-pipeline/internal/events"
	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/httpapi"
	"github.com/joelkehle/insight-pipeline/internal/logging"
	"github.com/joelkehle/insight-pipeline/internal/media"
	"github.com/joelkehle/insight-pipeline/internal/metrics"
	"github.com/joelkehle/insight-pipeline/internal/pipeline"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/queue"
	"github.com/joelkehle/insight-pipeline/internal/reportrender"
	"github.com/joelkehle/insight-pipeline/internal/stages"
	"github.com/joelkehle/insight-pipeline/internal/store"
	"github.com/joelkehle/insight-pipeline/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("INSIGHT_CONFIG"), "path to YAML config file")
	addrFlag := flag.String("addr", "", "listen address (overrides config and PORT)")
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	log := logging.Init(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("insight-worker stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	tp, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdown(tp.Shutdown, log)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	defer st.Close()
	log.Info().Str("db", cfg.DBPath).Msg("using sqlite store")

	if cfg.CatalogPath != "" {
		qs, err := questionnaire.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		ptrs := make([]*questionnaire.Questionnaire, 0, len(qs))
		for i := range qs {
			ptrs = append(ptrs, &qs[i])
		}
		if err := st.ImportCatalog(ctx, ptrs); err != nil {
			return fmt.Errorf("import catalog: %w", err)
		}
		log.Info().Int("questionnaires", len(ptrs)).Str("path", cfg.CatalogPath).Msg("catalog imported")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	reg.MustRegister(metrics.NewStatusCollector(st.CountByStatus))

	gw, closeGateway, err := newGateway(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer closeGateway()

	storage, err := media.NewFileStorage(cfg.StorageRoot)
	if err != nil {
		return err
	}

	var q queue.Queue
	if cfg.Redis.Addr != "" {
		client, err := queue.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		rq := queue.NewRedis(client, cfg.Redis.Key)
		reg.MustRegister(metrics.NewQueueDepthCollector(rq.Len))
		q = rq
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis queue")
	} else {
		mem := queue.NewMemory(cfg.Worker.QueueSize)
		defer mem.Close()
		reg.MustRegister(metrics.NewQueueDepthCollector(func(context.Context) (int64, error) {
			return int64(mem.Len()), nil
		}))
		q = mem
	}

	pub := events.New(events.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, Enabled: cfg.Kafka.Enabled},
		logging.WithComponent(log, "events"))
	pub.OnPublish(m.EventPublished)
	defer pub.Close()

	sc := &stages.Context{
		Logger:           logging.WithComponent(log, "stages"),
		Timeouts:         stages.Timeouts{Text: cfg.Timeouts.Text, Audio: cfg.Timeouts.Audio, Report: cfg.Timeouts.Report},
		ProcessorVersion: cfg.ProcessorVersion,
		Gateway:          gw,
		Storage:          storage,
		Transcoder:       media.NewFFmpegTranscoder(cfg.FFmpegBinary, filepath.Join(cfg.StorageRoot, "converted")),
		Tracer:           tp.Tracer("insight-pipeline/stages"),
		Observer:         m,
	}
	p := pipeline.New(sc, st, q, pub)

	worker := queue.NewWorker(q, p.Handle, queue.Policy{
		MaxAttempts:            cfg.Worker.MaxAttempts,
		MaxUnhandledExceptions: cfg.Worker.MaxUnhandledExceptions,
		InitialInterval:        cfg.Worker.InitialInterval,
		MaxInterval:            cfg.Worker.MaxInterval,
		Multiplier:             2,
	}, queue.WorkerOptions{
		Logger:             logging.WithComponent(log, "worker"),
		OnPermanentFailure: p.OnPermanentFailure,
		Observe:            m.QueueJob,
	})

	if n, err := p.Recover(ctx); err != nil {
		log.Error().Err(err).Int("jobs", n).Msg("recover in-flight responses")
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewServer(httpapi.Options{
			Pipeline: p,
			Store:    st,
			PDF:      reportrender.NewPDFRenderer(os.Getenv("CHROME_PATH")),
			Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Logger:   logging.WithComponent(log, "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("insight-worker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		errCh <- worker.Run(ctx, cfg.Worker.Concurrency)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newGateway(ctx context.Context, cfg config.Config, log zerolog.Logger, m *metrics.Metrics) (gateway.Gateway, func(), error) {
	params := gateway.Params{
		Temperature: cfg.Gateway.Temperature,
		MaxTokens:   cfg.Gateway.MaxTokens,
		TopP:        cfg.Gateway.TopP,
		TopK:        cfg.Gateway.TopK,
	}
	var (
		next    gateway.Gateway
		closeFn = func() {}
	)
	switch cfg.Gateway.Provider {
	case "anthropic":
		a, err := gateway.NewAnthropicGateway(cfg.Gateway.APIKey, cfg.Gateway.Model, params)
		if err != nil {
			return nil, nil, err
		}
		next = a
	default:
		g, err := gateway.NewGeminiGateway(ctx, cfg.Gateway.APIKey, cfg.Gateway.Model, params)
		if err != nil {
			return nil, nil, err
		}
		next = g
		closeFn = func() { _ = g.Close() }
	}
	log.Info().Str("provider", cfg.Gateway.Provider).Str("model", next.ModelName()).Msg("ai gateway configured")
	return gateway.WithRetry(next, gateway.RetryOptions{
		Attempts: cfg.Gateway.Attempts,
		Delays:   cfg.Gateway.Delays,
		Logger:   logging.WithComponent(log, "gateway"),
		Observe:  m.GatewayAttempt,
	}), closeFn, nil
}

func shutdown(fn func(context.Context) error, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown")
	}
}

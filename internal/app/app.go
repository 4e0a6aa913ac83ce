// Package app wires configuration, capture, detection, the occupancy monitor,
// sinks and the web monitor into one running door monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/capture"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/eventlog"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/integrity"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/notify"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/webmonitor"
)

const (
	alertQueueSize    = 16
	alertSendTimeout  = 30 * time.Second
	sinkSetupTimeout  = 10 * time.Second
	webMonitorHistory = 8
)

// Options controls one door monitor process.
type Options struct {
	// ConfigPath is the YAML config file; empty reads door-monitor.yaml if present.
	ConfigPath string
	// EnvPath is the dotenv file; empty reads .env if present.
	EnvPath string
	// Override applies command-line overrides after file and environment.
	Override func(*config.Config)
	// ExitOnEnd stops the process when the frame source ends instead of
	// serving the final state until cancelled.
	ExitOnEnd bool
	// Listener replaces listening on cfg.Addr.
	Listener net.Listener
	// Getenv replaces os.Getenv.
	Getenv func(string) string
}

// LoadConfig resolves the effective configuration: defaults, YAML file,
// dotenv, environment, then overrides.
func LoadConfig(opts *Options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.EnvPath); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if opts.Override != nil {
		opts.Override(cfg)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// Run starts the door monitor and blocks until ctx is cancelled, the
// source ends with ExitOnEnd set, or a component fails.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)
	defer logger.Sync()

	model, err := integrity.Verify(cfg.Model.Path, cfg.Model.SHA256)
	switch {
	case err != nil:
		logger.Error("Main", "model integrity check failed: %v", err)
	case model.Status == integrity.StatusDisabled:
		logger.Warn("Main", "model integrity check disabled (no model.sha256)")
	default:
		logger.Info("Main", "model %s verified", model.Path)
	}

	source, err := capture.Open(ctx, cfg.Source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	det, err := openDetector(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start detector: %w", err)
	}
	defer det.Close()

	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	var alerts pipeline.AlertQueue
	dispatcher, err := openNotifier(cfg)
	if err != nil {
		return err
	}
	if dispatcher != nil {
		dispatcher.Start(ctx)
		defer dispatcher.Close()
		alerts = dispatcher
	}

	m := metrics.New()
	tracker := occupancy.NewTracker(cfg.Policy.Policy(), occupancy.SystemClock{})
	rec := recorder.NewRecorder(cfg.Recording.OutputPath)
	defer rec.Close()

	monitor := webmonitor.NewMonitor(tracker, source.Name(), cfg.Detector.Kind, model.Status)
	server := webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.Addr,
		StatusInterval: cfg.StatusInterval,
		HistorySize:    webMonitorHistory,
		AllowOrigin:    cfg.AllowOrigin,
	}, monitor, rec, m)
	defer server.Close()

	p, err := pipeline.New(pipeline.Deps{
		Source:     source,
		Detector:   det,
		Tracker:    tracker,
		Renderer:   overlay.NewRenderer(cfg.JPEGQuality),
		Model:      model,
		Monitor:    monitor,
		Frames:     server.Frames(),
		Detections: server.Detections(),
		Recorder:   rec,
		Events:     sinks,
		Alerts:     alerts,
		Metrics:    m,
		AutoRecord: cfg.Recording.AutoOnAlert,
	})
	if err != nil {
		return err
	}

	policy := tracker.Policy()
	logger.Info("Main", "door monitor starting: threshold=%d max_change=%d alert=%s",
		policy.OccupancyThreshold, policy.MaxPeopleChangePerFrame, policy.AlertDuration)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if opts.Listener != nil {
			return server.Serve(gctx, opts.Listener)
		}
		return server.ListenAndServe(gctx)
	})
	if cfg.PprofAddr != "" {
		g.Go(func() error { return servePprof(gctx, cfg.PprofAddr) })
	}
	g.Go(func() error {
		if err := p.Run(gctx); err != nil {
			return err
		}
		if opts.ExitOnEnd {
			return errSourceEnded
		}
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errSourceEnded) {
		err = nil
	}
	logger.Info("Main", "door monitor stopped")
	return err
}

var errSourceEnded = errors.New("source ended")

// servePprof exposes the default mux, where net/http/pprof registers.
func servePprof(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webmonitor.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Main", "pprof server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("pprof server: %w", err)
	}
	return nil
}

func openDetector(ctx context.Context, cfg *config.Config) (detector.Detector, error) {
	switch cfg.Detector.Kind {
	case config.DetectorProcess:
		return detector.StartProcess(ctx, detector.ProcessConfig{
			Command:    cfg.Detector.Command,
			Classes:    []int{cfg.Detector.PersonClass},
			Confidence: cfg.Detector.Confidence,
			Timeout:    cfg.Detector.Timeout,
		})
	default:
		return detector.NewScripted(cfg.Detector.Script, cfg.Source.Loop || cfg.Source.Limit == 0), nil
	}
}

// openSinks opens every configured record sink behind one throttle.
func openSinks(ctx context.Context, cfg *config.Config) (eventlog.Sink, error) {
	var sinks eventlog.Multi
	closeAll := func() { _ = sinks.Close() }

	ev := cfg.EventLog
	if ev.CSVPath != "" {
		csv, err := eventlog.NewCSVSink(eventlog.CSVConfig{
			Path:       ev.CSVPath,
			MaxSizeMB:  ev.MaxSizeMB,
			MaxBackups: ev.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("open csv log: %w", err)
		}
		sinks = append(sinks, csv)
		logger.Info("Main", "occupancy log: %s", ev.CSVPath)
	}

	if len(ev.Kafka.Brokers) > 0 {
		sinks = append(sinks, eventlog.NewKafkaSink(ev.Kafka.Brokers, ev.Kafka.Topic))
		logger.Info("Main", "occupancy records to kafka topic %s", ev.Kafka.Topic)
	}

	if ev.Postgres.DSN != "" {
		setupCtx, cancel := context.WithTimeout(ctx, sinkSetupTimeout)
		pg, err := eventlog.NewPostgresSink(setupCtx, ev.Postgres.DSN, ev.Postgres.Table)
		cancel()
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open postgres log: %w", err)
		}
		sinks = append(sinks, pg)
		logger.Info("Main", "occupancy records to postgres table %s", ev.Postgres.Table)
	}

	return eventlog.Throttled(sinks, ev.Interval), nil
}

func openNotifier(cfg *config.Config) (*notify.Dispatcher, error) {
	tg := cfg.Notify.Telegram
	if tg.Token == "" {
		return nil, nil
	}
	n, err := notify.NewTelegram(notify.TelegramConfig{
		Token:         tg.Token,
		ChatID:        tg.ChatID,
		RatePerSecond: tg.RatePerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger.Info("Main", "telegram alerts enabled for chat %d", tg.ChatID)
	return notify.NewDispatcher(n, alertQueueSize, alertSendTimeout), nil
}

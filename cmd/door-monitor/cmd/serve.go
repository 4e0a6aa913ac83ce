package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/app"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/config"
)

// serveFlags holds command-line overrides. Only flags the user set are
// applied on top of the config file and environment.
type serveFlags struct {
	configPath    string
	envPath       string
	addr          string
	pprofAddr     string
	source        string
	sourceDir     string
	sourceURL     string
	device        string
	fps           float64
	limit         int
	loop          bool
	detector      string
	script        []int
	model         string
	modelSHA256   string
	csvPath       string
	recordPath    string
	recordOnAlert bool
	logLevel      string
	logColor      bool
	exitOnEnd     bool
}

func newServeCommand() *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the monitor and its web dashboard",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			flags := cmd.Flags()
			options := &app.Options{
				ConfigPath: f.configPath,
				EnvPath:    f.envPath,
				ExitOnEnd:  f.exitOnEnd,
				Override:   func(cfg *config.Config) { f.apply(flags, cfg) },
			}

			return app.Run(ctx, options)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	fs.StringVar(&f.envPath, "env", "", "path to dotenv file (default "+config.DefaultEnvFilename+" if present)")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.pprofAddr, "pprof", "", "pprof server address (disabled when empty)")
	fs.StringVar(&f.source, "source", "", "frame source: synthetic, dir, mjpeg or camera")
	fs.StringVar(&f.sourceDir, "source-dir", "", "directory of JPEG frames for the dir source")
	fs.StringVar(&f.sourceURL, "source-url", "", "MJPEG stream URL for the mjpeg source")
	fs.StringVar(&f.device, "device", "", "V4L2 device for the camera source")
	fs.Float64Var(&f.fps, "fps", 0, "frame rate for paced sources")
	fs.IntVar(&f.limit, "limit", 0, "stop the source after this many frames")
	fs.BoolVar(&f.loop, "loop", false, "restart the dir source at its end")
	fs.StringVar(&f.detector, "detector", "", "person detector: process or scripted")
	fs.IntSliceVar(&f.script, "script", nil, "people counts replayed by the scripted detector")
	fs.StringVar(&f.model, "model", "", "detector model file")
	fs.StringVar(&f.modelSHA256, "model-sha256", "", "expected SHA-256 of the model file")
	fs.StringVar(&f.csvPath, "csv", "", "occupancy CSV log path")
	fs.StringVar(&f.recordPath, "record-path", "", "recording output directory")
	fs.BoolVar(&f.recordOnAlert, "record-on-alert", false, "record while a spoofing alert is active")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error, silent)")
	fs.BoolVar(&f.logColor, "log-color", true, "enable colored log output")
	fs.BoolVar(&f.exitOnEnd, "exit-on-end", false, "exit when the frame source ends")

	if err := cmd.MarkFlagFilename("config", "yaml", "yml"); err != nil {
		panic(err)
	}

	return cmd
}

func (f *serveFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := fs.Changed

	if set("addr") {
		cfg.Addr = f.addr
	}
	if set("pprof") {
		cfg.PprofAddr = f.pprofAddr
	}
	if set("source") {
		cfg.Source.Kind = f.source
	}
	if set("source-dir") {
		cfg.Source.Dir = f.sourceDir
		if !set("source") {
			cfg.Source.Kind = config.SourceDir
		}
	}
	if set("source-url") {
		cfg.Source.URL = f.sourceURL
		if !set("source") {
			cfg.Source.Kind = config.SourceMJPEG
		}
	}
	if set("device") {
		cfg.Source.Device = f.device
	}
	if set("fps") {
		cfg.Source.FPS = f.fps
	}
	if set("limit") {
		cfg.Source.Limit = f.limit
	}
	if set("loop") {
		cfg.Source.Loop = f.loop
	}
	if set("detector") {
		cfg.Detector.Kind = f.detector
	}
	if set("script") {
		cfg.Detector.Script = f.script
	}
	if set("model") {
		cfg.Model.Path = f.model
	}
	if set("model-sha256") {
		cfg.Model.SHA256 = f.modelSHA256
	}
	if set("csv") {
		cfg.EventLog.CSVPath = f.csvPath
	}
	if set("record-path") {
		cfg.Recording.OutputPath = f.recordPath
	}
	if set("record-on-alert") {
		cfg.Recording.AutoOnAlert = f.recordOnAlert
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-color") {
		cfg.Log.Color = f.logColor
	}
}

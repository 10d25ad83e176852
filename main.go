package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/pwmirror/cmd"
	"github.com/smazurov/pwmirror/internal/config"
	"github.com/smazurov/pwmirror/internal/logging"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"pwmirror.toml"`

	// Transport settings
	Socket string `help:"Unix socket the consumer connects to" short:"s" default:"pwmirror.sock" toml:"transport.socket" env:"TRANSPORT_SOCKET"`

	// Server settings
	Listen string `help:"Status API address, empty disables the API" short:"l" default:":8095" toml:"server.listen" env:"SERVER_LISTEN"`

	// Stream settings
	StreamCandidates string `help:"Comma separated FOURCC[:modifier] list offered on connect" default:"XR24,AR24,XB24,AB24" toml:"stream.candidates" env:"STREAM_CANDIDATES"`
	StreamFPS        int    `help:"Target framerate" default:"30" toml:"stream.fps" env:"STREAM_FPS"`
	StreamWidth      int    `help:"Preferred frame width" default:"1280" toml:"stream.width" env:"STREAM_WIDTH"`
	StreamHeight     int    `help:"Preferred frame height" default:"720" toml:"stream.height" env:"STREAM_HEIGHT"`
	StreamBuffers    int    `help:"Producer buffer pool size" default:"4" toml:"stream.buffers" env:"STREAM_BUFFERS"`

	// Session settings
	SessionMaxStageErrors int `help:"Consecutive staging failures that end the session" default:"3" toml:"session.max_stage_errors" env:"SESSION_MAX_STAGE_ERRORS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Metrics settings
	MetricsEnabled bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession   string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingStage     string `help:"Stager logging level" default:"info" toml:"logging.stage" env:"LOGGING_STAGE"`
	LoggingTransport string `help:"Transport logging level" default:"info" toml:"logging.transport" env:"LOGGING_TRANSPORT"`
	LoggingTestsrc   string `help:"Synthetic source logging level" default:"info" toml:"logging.testsrc" env:"LOGGING_TESTSRC"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP      string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

// loggingConfig builds the logging configuration from the parsed options.
func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"session":   o.LoggingSession,
			"stage":     o.LoggingStage,
			"transport": o.LoggingTransport,
			"testsrc":   o.LoggingTestsrc,
			"api":       o.LoggingAPI,
			"http":      o.LoggingHTTP,
		},
	}
}

const stopTimeout = 10 * time.Second

func main() {
	var root *cobra.Command
	var runErr error
	done := make(chan struct{})

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		loggingConfig := opts.loggingConfig()
		logging.Initialize(loggingConfig)
		logger := logging.GetLogger("main")

		ctx, cancel := context.WithCancel(context.Background())

		// Reload logging levels when the config file changes.
		watcher := config.NewConfigWatcher(opts.Config, func(path string) (logging.Config, error) {
			fileCfg, err := config.ReadLoggingConfig(path)
			if err != nil {
				return logging.Config{}, err
			}
			return mergeLogging(loggingConfig, fileCfg), nil
		}, logger)
		watcher.OnReload(logging.UpdateLevels)

		hooks.OnStart(func() {
			defer close(done)
			runErr = runService(ctx, opts, logger, watcher)
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			select {
			case <-done:
			case <-time.After(stopTimeout):
				logger.Warn("Timed out waiting for the session to drain")
			}
		})
	})
	root = cli.Root()
	root.Use = "pwmirror"
	root.Short = "Mirror a video stream to a local consumer over descriptor passing"

	cli.Root().AddCommand(cmd.CreateReceiveCmd())
	cli.Root().AddCommand(cmd.CreateOfferCmd())

	cli.Run()

	// Subcommands never start the producer and leave done open.
	select {
	case <-done:
		if runErr != nil {
			os.Exit(1)
		}
	default:
	}
}

// runService runs the producer with config hot-reload active. It returns the
// producer error, nil when the producer was cancelled.
func runService(ctx context.Context, opts *Options, logger *slog.Logger, watcher *config.Watcher[logging.Config]) error {
	if _, statErr := os.Stat(opts.Config); statErr == nil {
		if startErr := watcher.Start(); startErr != nil {
			logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	if err := runProducer(ctx, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Producer failed", "error", err)
		return err
	}
	logger.Info("Producer stopped")
	return nil
}

// mergeLogging overlays levels from the config file on the startup levels.
func mergeLogging(base, file logging.Config) logging.Config {
	out := logging.Config{
		Level:   base.Level,
		Format:  base.Format,
		Modules: make(map[string]string, len(base.Modules)),
	}
	for k, v := range base.Modules {
		out.Modules[k] = v
	}
	if file.Level != "" {
		out.Level = file.Level
	}
	for k, v := range file.Modules {
		out.Modules[k] = v
	}
	return out
}

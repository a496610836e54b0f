package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/amr1k/rtmptranscribe/internal/audio"
	"github.com/amr1k/rtmptranscribe/internal/config"
	"github.com/amr1k/rtmptranscribe/internal/fifo"
	"github.com/amr1k/rtmptranscribe/internal/logging"
	"github.com/amr1k/rtmptranscribe/internal/metrics"
	"github.com/amr1k/rtmptranscribe/internal/render"
	"github.com/amr1k/rtmptranscribe/internal/server"
	"github.com/amr1k/rtmptranscribe/internal/session"
	"github.com/amr1k/rtmptranscribe/internal/transcoder"
	"github.com/amr1k/rtmptranscribe/internal/transcription"
)

const (
	serviceName    = "rtmptranscribe"
	serviceVersion = "1.0.0"

	httpShutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Parse command line flags
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	printConfig := flags.Bool("print-config", false, "Print the effective configuration and exit")
	config.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	if *printConfig {
		data, err := cfg.YAML(true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		os.Stdout.Write(data)
		return 0
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	logger.Info("Service starting",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
		zap.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		zap.String("rtmp_url", cfg.Source.RTMPURL),
		zap.String("pipe_path", cfg.Source.PipePath),
		zap.Int("sample_rate", cfg.Audio.SampleRate),
		zap.Int("chunk_size", cfg.Audio.ChunkSize),
		zap.String("language_code", cfg.Recognition.LanguageCode),
		zap.Strings("exit_keywords", cfg.Session.ExitKeywords),
		zap.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Audio.SampleRate)

	// Initialize HTTP status server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", zap.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", zap.Error(err))
			}
		}()
	}

	if err := transcoder.CheckInstalled(cfg.Transcoder.Binary); err != nil {
		logger.Error("Transcoder unavailable", zap.Error(err))
		return 1
	}

	if err := fifo.Ensure(cfg.Source.PipePath); err != nil {
		logger.Error("Failed to create the FIFO pipe", zap.Error(err))
		return 1
	}

	logger.Info("Starting transcoder to capture audio stream from RTMP")
	tc := transcoder.New(transcoder.Config{
		Binary:      cfg.Transcoder.Binary,
		LogLevel:    cfg.Transcoder.LogLevel,
		InputURL:    cfg.Source.RTMPURL,
		OutputPath:  cfg.Source.PipePath,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		ExtraArgs:   cfg.Transcoder.ExtraArgs,
		StopTimeout: cfg.Transcoder.StopTimeout,
	}, logger)
	if err := tc.Start(ctx); err != nil {
		return startupFailure(ctx, logger, "Failed to start transcoder", err)
	}
	defer func() {
		if err := tc.Stop(); err != nil {
			logger.Error("Error stopping transcoder", zap.Error(err))
		}
	}()

	bridge, err := openBridge(ctx, cfg, tc, logger, appMetrics)
	if err != nil {
		return startupFailure(ctx, logger, "Failed to open audio source", err)
	}
	defer bridge.Close()

	client, err := transcription.NewClient(ctx, transcription.Config{
		SampleRate:               cfg.Audio.SampleRate,
		LanguageCode:             cfg.Recognition.LanguageCode,
		AlternativeLanguageCodes: cfg.Recognition.AlternativeLanguageCodes,
		Model:                    cfg.Recognition.Model,
		InterimResults:           cfg.Recognition.InterimResults,
		AutomaticPunctuation:     cfg.Recognition.AutomaticPunctuation,
		ProfanityFilter:          cfg.Recognition.ProfanityFilter,
		CredentialsFile:          cfg.Recognition.CredentialsFile,
		APIKey:                   cfg.Recognition.APIKey,
		QuotaProject:             cfg.Recognition.QuotaProject,
		Endpoint:                 cfg.Recognition.Endpoint,
	}, logger, transcription.WithObserver(appMetrics))
	if err != nil {
		return startupFailure(ctx, logger, "Failed to create recognition client", err)
	}
	defer client.Close()

	renderer, err := render.New(os.Stdout, cfg.Session.ExitKeywords)
	if err != nil {
		logger.Error("Failed to create renderer", zap.Error(err))
		return 1
	}

	opts := []session.Option{
		session.WithSampleRate(cfg.Audio.SampleRate),
		session.WithObserver(appMetrics),
	}
	if cfg.Audio.RecordPath != "" {
		recorder, err := audio.CreateWAVRecorder(cfg.Audio.RecordPath, cfg.Audio.SampleRate)
		if err != nil {
			logger.Error("Failed to create recording", zap.Error(err))
			return 1
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Error("Failed to finalize recording", zap.Error(err))
			}
		}()
		opts = append(opts, session.WithRecorder(recorder, cfg.Audio.RecordPath))
	}

	runner := session.NewRunner(client, renderer, logger, opts...)
	if httpServer != nil {
		httpServer.SetBridge(bridge)
		httpServer.SetClient(client)
		httpServer.SetSession(runner)
	}

	return runSession(ctx, bridge, runner, cfg.Session.DrainTimeout, logger)
}

// runSession runs the session until the audio ends or the runner fails. When
// ctx is cancelled by a signal the bridge is closed so the recognizer finishes
// with the audio already captured; the session is cancelled if that takes
// longer than drain.
func runSession(ctx context.Context, bridge *audio.Bridge, runner *session.Runner, drain time.Duration, logger *zap.Logger) int {
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	stopDrain := context.AfterFunc(ctx, func() {
		logger.Info("Received shutdown signal, draining", zap.Duration("drain_timeout", drain))
		time.AfterFunc(drain, cancelRun)
		bridge.Close()
	})
	defer stopDrain()

	logger.Info("Transcoding extracted audio stream", zap.String("session_id", runner.ID()))
	err := runner.Run(runCtx, bridge)

	if srcErr := bridge.Err(); srcErr != nil {
		logger.Info("Audio source ended", zap.Error(srcErr))
	}

	info := runner.Info()
	logger.Info("Final session statistics",
		zap.String("state", string(info.State)),
		zap.Uint64("batches_sent", info.BatchesSent),
		zap.Float64("audio_seconds", info.AudioSeconds),
		zap.Uint64("final_results", info.FinalResults),
	)

	switch {
	case err == nil:
		return 0
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		logger.Warn("Drain timeout exceeded, results may be incomplete")
		return 0
	default:
		logger.Error("Transcription failed", zap.Error(err))
		return 1
	}
}

// startupFailure logs a failed startup step. A step cut short by a shutdown
// signal is a normal exit.
func startupFailure(ctx context.Context, logger *zap.Logger, msg string, err error) int {
	if ctx.Err() != nil {
		logger.Info("Shutdown requested during startup", zap.String("step", msg), zap.Error(err))
		return 0
	}
	logger.Error(msg, zap.Error(err))
	return 1
}

// openBridge opens the pipe and starts the audio bridge. The open is abandoned
// if the transcoder exits first, a signal arrives or the open timeout passes.
func openBridge(ctx context.Context, cfg *config.Config, tc *transcoder.Transcoder, logger *zap.Logger, m *metrics.Metrics) (*audio.Bridge, error) {
	openCtx := ctx
	if cfg.Transcoder.OpenTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cfg.Transcoder.OpenTimeout)
		defer cancel()
	}

	return audio.Open(
		audio.BridgeConfig{SampleRate: cfg.Audio.SampleRate, ChunkSizeBytes: cfg.Audio.ChunkSize},
		func() (io.ReadCloser, error) {
			return fifo.Open(openCtx, cfg.Source.PipePath, tc.Done())
		},
		audio.WithLogger(logger),
		audio.WithObserver(m),
	)
}

// Command voicelink is a headless reference client for the Kundli voice
// consultation service. It connects a file-backed microphone and a WAV-writing
// output device to the full pipeline: capture → WebSocket uplink, and inbound
// speech fragments → coalescing → sequential playback.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kundliapp/voicelink/internal/capture"
	"github.com/kundliapp/voicelink/internal/config"
	"github.com/kundliapp/voicelink/internal/health"
	"github.com/kundliapp/voicelink/internal/observe"
	"github.com/kundliapp/voicelink/internal/reassembly"
	"github.com/kundliapp/voicelink/internal/session"
	"github.com/kundliapp/voicelink/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicelink.yaml", "path to the YAML configuration file")
	userID := flag.String("user", "", "user ID for the voice session")
	astrologerID := flag.String("astrologer", "", "astrologer ID (required for the mobile endpoint)")
	inputPath := flag.String("input", "", "raw PCM16 file replayed as microphone input (optional)")
	outDir := flag.String("outdir", "out", "directory for spoken segment WAV files")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelink: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		}
		return 1
	}
	if *userID == "" {
		fmt.Fprintln(os.Stderr, "voicelink: -user is required")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicelink starting",
		"config", *configPath,
		"endpoint", cfg.Endpoint,
		"mobile", cfg.Mobile,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicelink",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Devices ───────────────────────────────────────────────────────────────
	out, err := newWAVOutput(*outDir)
	if err != nil {
		slog.Error("failed to open output device", "err", err)
		return 1
	}
	defer out.Close()
	mic := newFileMicrophone(*inputPath)

	// ── Session controller ────────────────────────────────────────────────────
	ctrl := session.New(mic, out, session.Config{
		Endpoint: cfg.Endpoint,
		Mobile:   cfg.Mobile,
		Transport: transport.Config{
			KeepaliveInterval: cfg.KeepaliveInterval.Std(),
		},
		Capture: capture.Config{
			SampleRate:       cfg.Capture.SampleRate,
			Channels:         cfg.Capture.Channels,
			EchoCancellation: cfg.Capture.EchoCancellation,
			NoiseSuppression: cfg.Capture.NoiseSuppression,
			ChunkInterval:    cfg.Capture.ChunkInterval.Std(),
			EncodeOpus:       cfg.Capture.EncodeOpus,
		},
		Coalesce: reassembly.Config{
			MaxFragments: cfg.Coalesce.MaxFragments,
			FlushAfter:   cfg.Coalesce.FlushAfter.Std(),
		},
	}, session.WithEvents(session.Events{
		OnDisconnect: func(err error) {
			slog.Error("voice connection lost", "err", err)
			stop()
		},
		OnServiceError: func(msg string) {
			slog.Warn("voice service reported an error", "message", msg)
		},
	}))

	g, ctx := errgroup.WithContext(ctx)

	// ── Metrics and health endpoints ──────────────────────────────────────────
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.ConnectionChecker(ctrl.ConnectionState),
		).Register(mux)

		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Run the session ───────────────────────────────────────────────────────
	g.Go(func() error {
		if err := ctrl.Start(ctx, *userID, *astrologerID); err != nil {
			return err
		}
		defer func() {
			if err := ctrl.End(); err != nil {
				slog.Warn("session teardown", "err", err)
			}
		}()

		// With a file-backed microphone, run one capture burst covering the
		// whole input, then stay connected for the spoken response.
		if *inputPath != "" {
			if err := ctrl.StartCapture(ctx); err != nil {
				return err
			}
			slog.Info("replaying capture input", "path", *inputPath)
		}

		slog.Info("session ready — press Ctrl+C to end")
		<-ctx.Done()

		if ctrl.IsRecording() {
			if err := ctrl.StopCapture(); err != nil {
				slog.Warn("stop capture", "err", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("voicelink exited with error", "err", err)
		return 1
	}

	slog.Info("voicelink stopped")
	return 0
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Command livescribe is the main entry point for the live transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/pcmstream"
	"github.com/MrWong99/livescribe/pkg/audio/wsaudio"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
	oatranscriber "github.com/MrWong99/livescribe/pkg/provider/transcriber/openai"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "livescribe.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	watchPath := *configPath
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "livescribe: config file %q not found, using defaults\n", *configPath)
		cfg = config.Default()
		watchPath = ""
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("livescribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithLevelVar(level),
		app.WithVersion(version),
	}
	if watchPath != "" {
		opts = append(opts, app.WithConfigPath(watchPath))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltins wires the transcriber and audio source factories that ship
// with livescribe into reg.
func registerBuiltins(reg *config.Registry) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (transcriber.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		url := entry.BaseURL
		if url == "" {
			url = whisper.DefaultServerURL
		}
		return whisper.New(url, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (transcriber.Provider, error) {
		var opts []oatranscriber.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatranscriber.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oatranscriber.WithLanguage(entry.Language))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oatranscriber.WithOrganization(org))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oatranscriber.WithPrompt(prompt))
		}
		return oatranscriber.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Audio sources ─────────────────────────────────────────────────────────

	reg.RegisterAudio("websocket", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []wsaudio.Option
		if patterns := optStrings(entry.Options, "origin_patterns"); len(patterns) > 0 {
			opts = append(opts, wsaudio.WithOriginPatterns(patterns...))
		}
		if n := optInt(entry.Options, "frame_buffer"); n > 0 {
			opts = append(opts, wsaudio.WithFrameBuffer(n))
		}
		return wsaudio.New(opts...), nil
	})

	reg.RegisterAudio("pcm", func(entry config.ProviderEntry) (audio.Source, error) {
		path := optString(entry.Options, "path")
		if path == "" {
			path = "-"
		}
		format := audio.Format{
			ContentType: audio.ContentTypePCM,
			SampleRate:  optInt(entry.Options, "sample_rate"),
			Channels:    optInt(entry.Options, "channels"),
		}
		var opts []pcmstream.Option
		if v, ok := entry.Options["realtime"].(bool); ok {
			opts = append(opts, pcmstream.WithRealtime(v))
		}
		return pcmstream.NewFile(path, format, opts...), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered backend", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value; YAML decodes plain numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optStrings accepts either a single string or a list of strings.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

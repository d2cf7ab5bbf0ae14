package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, config.Default())
	if !d.Empty() {
		t.Errorf("expected empty diff, got sections %v", d.Sections)
	}
	if d.LogLevelChanged || d.SessionChanged || d.RestartRequired {
		t.Errorf("unexpected diff flags: %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.SessionChanged || d.RestartRequired {
		t.Errorf("log level alone should not affect sessions or require restart: %+v", d)
	}
	if !slices.Equal(d.Sections, []string{"server"}) {
		t.Errorf("sections = %v, want [server]", d.Sections)
	}
}

func TestDiff_SessionSections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"transcriber", func(c *config.Config) { c.Transcriber.Primary.Name = "openai" }, "transcriber"},
		{"fallbacks", func(c *config.Config) {
			c.Transcriber.Fallbacks = []config.ProviderEntry{{Name: "whisper"}}
		}, "transcriber"},
		{"audio", func(c *config.Config) { c.Audio.TargetSampleRate = 16000 }, "audio"},
		{"segment", func(c *config.Config) { c.Segment.MinInterval = 5 * time.Second }, "segment"},
		{"dispatch", func(c *config.Config) { *c.Dispatch.MaxRetries = 7 }, "dispatch"},
		{"quality", func(c *config.Config) { c.Quality.WarnAfter = 30 * time.Second }, "quality"},
		{"session", func(c *config.Config) { c.Session.MaxDuration = time.Hour }, "session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.SessionChanged {
				t.Error("expected SessionChanged=true")
			}
			if d.RestartRequired {
				t.Error("expected RestartRequired=false")
			}
			if !slices.Equal(d.Sections, []string{tt.section}) {
				t.Errorf("sections = %v, want [%s]", d.Sections, tt.section)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1234" }},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }},
		{"mcp", func(c *config.Config) { c.MCP.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			if d := config.Diff(old, new); !d.RestartRequired {
				t.Errorf("expected RestartRequired=true, got %+v", d)
			}
		})
	}
}

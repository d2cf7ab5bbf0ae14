package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Sections lists the top-level YAML sections whose values differ, in
	// declaration order.
	Sections []string

	// SessionChanged is true when any value used to build the next session
	// changed (transcriber, audio, segment, dispatch, quality, session).
	SessionChanged bool

	// RestartRequired is true when a value changed that only takes effect on
	// process restart (listen address, TLS, MCP).
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool { return len(d.Sections) == 0 }

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	sections := []struct {
		name     string
		old, new any
		session  bool
	}{
		{"server", old.Server, new.Server, false},
		{"transcriber", old.Transcriber, new.Transcriber, true},
		{"audio", old.Audio, new.Audio, true},
		{"segment", old.Segment, new.Segment, true},
		{"dispatch", old.Dispatch, new.Dispatch, true},
		{"quality", old.Quality, new.Quality, true},
		{"session", old.Session, new.Session, true},
		{"mcp", old.MCP, new.MCP, false},
	}
	for _, s := range sections {
		if reflect.DeepEqual(s.old, s.new) {
			continue
		}
		d.Sections = append(d.Sections, s.name)
		if s.session {
			d.SessionChanged = true
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.MCP != new.MCP {
		d.RestartRequired = true
	}

	return d
}

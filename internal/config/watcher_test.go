package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
transcriber:
  primary:
    name: whisper
    base_url: http://localhost:8081
segment:
  min_interval: 15s
`

const watcherUpdatedYAML = `
server:
  log_level: debug
transcriber:
  primary:
    name: whisper
    base_url: http://localhost:8081
segment:
  min_interval: 10s
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// noPoll is long enough that only fsnotify events can trigger a reload within
// a test.
const noPoll = time.Hour

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's modification time forward so that coarse
// filesystem timestamps still register a change.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type reload struct{ old, new *config.Config }

// startWatcher writes content to a fresh config file and watches it.
func startWatcher(t *testing.T, content string, interval time.Duration) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livescribe.yaml")
	writeFile(t, path, content)

	ch := make(chan reload, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		ch <- reload{old, new}
	}, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, ch
}

func waitReload(t *testing.T, ch <-chan reload) reload {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
		return reload{}
	}
}

func expectNoReload(t *testing.T, ch <-chan reload, within time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected reload to %+v", r.new.Server)
	case <-time.After(within):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherValidYAML, noPoll)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Segment.MinInterval != 15*time.Second {
		t.Errorf("min_interval = %v, want 15s", cfg.Segment.MinInterval)
	}
	if cfg.Segment.MinFragments != config.DefaultMinFragments {
		t.Errorf("min_fragments = %d, want default %d", cfg.Segment.MinFragments, config.DefaultMinFragments)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, watcherInvalidYAML)

	for name, path := range map[string]string{
		"missing": filepath.Join(dir, "missing.yaml"),
		"invalid": invalid,
	} {
		if _, err := config.NewWatcher(path, nil); err == nil {
			t.Errorf("%s: NewWatcher succeeded, want error", name)
		}
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherValidYAML, noPoll)

	// No pause after NewWatcher: the event subscription must already be live.
	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	r := waitReload(t, ch)
	if r.old.Segment.MinInterval != 15*time.Second || r.new.Segment.MinInterval != 10*time.Second {
		t.Errorf("min_interval %v -> %v, want 15s -> 10s", r.old.Segment.MinInterval, r.new.Segment.MinInterval)
	}
	if r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want debug", r.new.Server.LogLevel)
	}
	if w.Current() != r.new {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_ReloadsOnAtomicReplace(t *testing.T) {
	t.Parallel()
	path, _, ch := startWatcher(t, watcherValidYAML, noPoll)

	tmp := path + ".tmp"
	writeFile(t, tmp, watcherUpdatedYAML)
	bumpMtime(t, tmp, time.Second)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if r := waitReload(t, ch); r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want debug", r.new.Server.LogLevel)
	}
}

func TestWatcher_RepeatedStartsSeeFirstWrite(t *testing.T) {
	t.Parallel()
	for i := range 5 {
		path, w, ch := startWatcher(t, watcherValidYAML, noPoll)
		writeFile(t, path, watcherUpdatedYAML)
		bumpMtime(t, path, time.Second)

		select {
		case r := <-ch:
			if r.new.Segment.MinInterval != 10*time.Second {
				t.Fatalf("start %d: min_interval = %v, want 10s", i, r.new.Segment.MinInterval)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("start %d: write right after NewWatcher was not picked up", i)
		}
		w.Stop()
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherValidYAML, 20*time.Millisecond)
	before := w.Current()

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path, time.Second)
	expectNoReload(t, ch, 200*time.Millisecond)
	if w.Current() != before {
		t.Fatal("Current() changed after an invalid write")
	}

	// A later valid write is still picked up.
	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, 2*time.Second)
	if r := waitReload(t, ch); r.old != before {
		t.Error("reload after invalid write should report the last valid config as old")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path, _, ch := startWatcher(t, watcherValidYAML, 20*time.Millisecond)

	bumpMtime(t, path, time.Second)
	writeFile(t, path, watcherValidYAML)
	bumpMtime(t, path, 2*time.Second)
	expectNoReload(t, ch, 200*time.Millisecond)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherValidYAML, 20*time.Millisecond)

	w.Stop()
	w.Stop()

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)
	expectNoReload(t, ch, 200*time.Millisecond)
}

package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldtrace/fieldtrace/pkg/track"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// waitForVersion polls until the applied policy reaches the wanted version or
// the deadline passes. Filesystem events arrive asynchronously, so the tests
// cannot assert immediately after a write.
func waitForVersion(t *testing.T, applier *Applier, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p := applier.Current(); p != nil && p.Version == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	current := "<nil>"
	if p := applier.Current(); p != nil {
		current = p.Version
	}
	t.Fatalf("policy version %s never applied, current %s", want, current)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicy(t, path, "version: \"1.0\"\nkinds: {profile: {audit_all: true}}")

	applier := NewApplier(track.NewRegistry())

	w, err := NewWatcher(path, applier)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	w.Reload()
	waitForVersion(t, applier, "1.0")

	w.Start()

	writePolicy(t, path, "version: \"1.1\"\nkinds: {invoice: {track: [status]}}")
	waitForVersion(t, applier, "1.1")

	p := applier.Current()
	if _, ok := p.Kinds["invoice"]; !ok {
		t.Error("reloaded policy missing invoice kind")
	}
}

func TestWatcher_BadFileKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicy(t, path, "version: \"1.0\"\nkinds: {profile: {audit_all: true}}")

	applier := NewApplier(track.NewRegistry())

	w, err := NewWatcher(path, applier)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	w.Reload()
	waitForVersion(t, applier, "1.0")

	// Rejected on reload: unsupported version.
	writePolicy(t, path, "version: \"2.0\"\nkinds: {}")
	w.Reload()

	if p := applier.Current(); p == nil || p.Version != "1.0" {
		t.Errorf("last good policy not retained after bad reload")
	}
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "policy.yaml"), NewApplier(track.NewRegistry()))
	if err == nil {
		t.Error("expected error watching a missing directory")
	}
}

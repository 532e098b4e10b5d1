package signalfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func signalPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), DefaultFileName)
}

func TestSendCheckRoundTrip(t *testing.T) {
	path := signalPath(t)

	sent, err := Send(path, ActionSwap, []string{"vendor/blog"}, "deploy 42")
	if err != nil {
		t.Fatal(err)
	}

	got := Check(path)
	if got == nil {
		t.Fatal("Check() returned nil after Send")
	}
	if got.Action != ActionSwap {
		t.Errorf("action = %q, want swap", got.Action)
	}
	if len(got.Modules) != 1 || got.Modules[0] != "vendor/blog" {
		t.Errorf("modules = %v", got.Modules)
	}
	if got.Reason != "deploy 42" {
		t.Errorf("reason = %q", got.Reason)
	}
	if got.ID != sent.ID {
		t.Errorf("id = %q, want %q", got.ID, sent.ID)
	}
	if got.Timestamp == 0 || time.Since(time.Unix(got.Timestamp, 0)) > 5*time.Second {
		t.Errorf("timestamp = %d, not recent", got.Timestamp)
	}
}

func TestSendLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if _, err := Send(path, ActionRestart, nil, ""); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != DefaultFileName {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestSendRejectsUnknownAction(t *testing.T) {
	if _, err := Send(signalPath(t), Action("reboot"), nil, ""); err == nil {
		t.Error("Send() accepted unknown action")
	}
}

func TestCheckMissingFile(t *testing.T) {
	if got := Check(signalPath(t)); got != nil {
		t.Errorf("Check() = %+v, want nil for missing file", got)
	}
}

func TestCheckFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"malformed json", "{not json"},
		{"unknown action", `{"action":"reboot","timestamp":1700000000}`},
		{"missing action", `{"timestamp":1700000000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := signalPath(t)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := Check(path); got != nil {
				t.Errorf("Check() = %+v, want nil", got)
			}
		})
	}
}

func TestClearIsIdempotent(t *testing.T) {
	path := signalPath(t)
	if _, err := Send(path, ActionTerminate, nil, ""); err != nil {
		t.Fatal(err)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("Clear() = %v", err)
	}
	if got := Check(path); got != nil {
		t.Errorf("Check() after Clear = %+v, want nil", got)
	}
	if err := Clear(path); err != nil {
		t.Errorf("Clear() on absent file = %v, want nil", err)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now().Unix()

	fresh := &Signal{Action: ActionSwap, Timestamp: now - 10}
	if fresh.IsStale(DefaultTTL) {
		t.Error("10s old signal should not be stale with 5m TTL")
	}

	old := &Signal{Action: ActionSwap, Timestamp: now - 400}
	if !old.IsStale(300 * time.Second) {
		t.Error("400s old signal should be stale with 300s TTL")
	}

	missing := &Signal{Action: ActionSwap}
	if !missing.IsStale(DefaultTTL) {
		t.Error("signal without timestamp should always be stale")
	}
}

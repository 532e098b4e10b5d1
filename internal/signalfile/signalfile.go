// Package signalfile implements the file-based one-shot control channel used
// by deploy tooling to ask running workers to restart, hot-swap or terminate.
//
// The file is written with a write-temp-then-rename commit so readers never
// observe a partial record, and consumed with read-then-delete so each
// written signal is handled by at most one worker.
package signalfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultFileName is the conventional signal file name under the site's
// data directory.
const DefaultFileName = ".worker-signal"

// DefaultTTL is how long a written signal stays actionable. Older signals
// are cleared without being acted on.
const DefaultTTL = 5 * time.Minute

// Action is the instruction carried by a signal.
type Action string

// Supported signal actions.
const (
	ActionRestart   Action = "restart"
	ActionSwap      Action = "swap"
	ActionTerminate Action = "terminate"
)

// Valid reports whether the action is one of the supported values.
func (a Action) Valid() bool {
	return a == ActionRestart || a == ActionSwap || a == ActionTerminate
}

// Signal is the externally written control record.
type Signal struct {
	ID        string   `json:"id,omitempty"`
	Action    Action   `json:"action"`
	Timestamp int64    `json:"timestamp"`
	Modules   []string `json:"modules,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Age returns how long ago the signal was written.
func (s *Signal) Age() time.Duration {
	if s.Timestamp == 0 {
		return 0
	}
	return time.Since(time.Unix(s.Timestamp, 0))
}

// IsStale reports whether the signal is too old to act on. A signal without
// a timestamp is always stale.
func (s *Signal) IsStale(ttl time.Duration) bool {
	if s.Timestamp == 0 {
		return true
	}
	return s.Age() > ttl
}

// Send serializes the signal and commits it to path via an atomic rename.
// The temporary name embeds the sender's pid and a ULID so concurrent
// senders never collide.
func Send(path string, action Action, modules []string, reason string) (*Signal, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown signal action %q", action)
	}

	sig := &Signal{
		ID:        ulid.Make().String(),
		Action:    action,
		Timestamp: time.Now().Unix(),
		Modules:   modules,
		Reason:    reason,
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}

	tmp := fmt.Sprintf("%s.%d.%s.tmp", path, os.Getpid(), sig.ID)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return sig, nil
}

// Check reads and parses the signal at path. It returns nil for a missing
// file, empty content, malformed JSON or an unrecognized action: malformed
// signals are ignored, never fatal.
func Check(path string) *Signal {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}

	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil
	}
	if !sig.Action.Valid() {
		return nil
	}
	return &sig
}

// Clear deletes the signal file. Clearing an already-absent file succeeds.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

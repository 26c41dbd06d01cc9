package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// HolisticFlag manages the per-session holistic-review marker file. While a
// session's flag exists, the gate hook (outside this package's scope) is
// expected to reject every mutation tool call from that session. The flag
// is removed only by a settle-check, after an approved holistic verdict or
// when the session has too few tasks for a holistic review; on blocked or
// needs_human_review it is left in place — updated with the verdict
// payload — so a human can see why the session is still gated.
type HolisticFlag struct {
	dir string
}

// NewHolisticFlag creates the flag directory if needed.
func NewHolisticFlag(dir string) (*HolisticFlag, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create holistic flag dir: %w", err)
	}
	return &HolisticFlag{dir: dir}, nil
}

func (f *HolisticFlag) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".holistic")
}

// Set creates or refreshes an empty flag for a session, gating further
// mutation tool calls until it is cleared.
func (f *HolisticFlag) Set(sessionID string) error {
	return os.WriteFile(f.path(sessionID), nil, 0o644)
}

// SetVerdict updates the flag in place with a blocked/needs_human_review
// verdict payload, without removing it — the session stays gated until a
// human resolves the block.
func (f *HolisticFlag) SetVerdict(sessionID string, payload []byte) error {
	return os.WriteFile(f.path(sessionID), payload, 0o644)
}

// Remove deletes a session's flag, if present.
func (f *HolisticFlag) Remove(sessionID string) error {
	err := os.Remove(f.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a session is currently gated.
func (f *HolisticFlag) Exists(sessionID string) bool {
	_, err := os.Stat(f.path(sessionID))
	return err == nil
}

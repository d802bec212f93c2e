package abort

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/renholm/stagehand/pkg/schema"
)

const (
	// MarkerName is the abort marker file inside the control directory.
	MarkerName = ".abort"

	// UnknownReason is reported when the marker exists but its reason
	// cannot be read.
	UnknownReason = "Unknown abort reason"

	// DefaultPollInterval is how often Context checks the marker.
	DefaultPollInterval = 100 * time.Millisecond
)

// Monitor observes and signals cooperative cancellation through a
// filesystem marker. The marker is process- and language-agnostic: any
// collaborator can create it, and every executor observes it. The monitor
// never clears the marker on its own; clearing is an explicit operator
// action so a real cancellation is never masked under concurrent instances.
type Monitor struct {
	controlDir string
}

// NewMonitor creates a Monitor over the given control directory
// (e.g. ".stagehand").
func NewMonitor(controlDir string) *Monitor {
	return &Monitor{controlDir: controlDir}
}

func (m *Monitor) markerPath() string {
	return filepath.Join(m.controlDir, MarkerName)
}

// Signal creates the abort marker carrying the reason. Creation is atomic
// (temp file + rename) so concurrent readers never observe a partially
// written reason. If a marker already exists the first reason wins and the
// call is a no-op.
func (m *Monitor) Signal(reason string) error {
	if m.IsAborted() {
		return nil
	}
	if err := os.MkdirAll(m.controlDir, 0o755); err != nil {
		return schema.NewErrorf(schema.ErrKindIO, "create control dir %s: %s", m.controlDir, err.Error()).WithCause(err)
	}

	tmp, err := os.CreateTemp(m.controlDir, MarkerName+".tmp-*")
	if err != nil {
		return schema.NewErrorf(schema.ErrKindIO, "create abort marker: %s", err.Error()).WithCause(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(reason); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrKindIO, "write abort marker: %s", err.Error()).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrKindIO, "close abort marker: %s", err.Error()).WithCause(err)
	}
	if err := os.Rename(tmpName, m.markerPath()); err != nil {
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrKindIO, "publish abort marker: %s", err.Error()).WithCause(err)
	}
	return nil
}

// IsAborted reports whether the abort marker exists.
func (m *Monitor) IsAborted() bool {
	_, err := os.Stat(m.markerPath())
	return err == nil
}

// Reason returns the abort reason, or "" when no abort is signaled.
// An existing but unreadable or empty marker yields UnknownReason.
func (m *Monitor) Reason() string {
	data, err := os.ReadFile(m.markerPath())
	if err != nil {
		if m.IsAborted() {
			return UnknownReason
		}
		return ""
	}
	reason := strings.TrimSpace(string(data))
	if reason == "" {
		return UnknownReason
	}
	return reason
}

// Clear removes the abort marker. Only operators (or the owning process on
// a clean fresh-run start) call this; the executor never does.
func (m *Monitor) Clear() error {
	err := os.Remove(m.markerPath())
	if err != nil && !os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrKindIO, "clear abort marker: %s", err.Error()).WithCause(err)
	}
	return nil
}

// Err returns an Abort error carrying the current reason, or nil when no
// abort is signaled.
func (m *Monitor) Err() error {
	if !m.IsAborted() {
		return nil
	}
	return schema.NewAbort(m.Reason())
}

// Context derives a context that is cancelled (with an Abort cause) once
// the marker appears. The polling goroutine stops when the returned stop
// function is called or the parent context ends. In-process propagation to
// running instances goes through this context; cross-process propagation is
// the marker itself.
func (m *Monitor) Context(parent context.Context, interval time.Duration) (context.Context, context.CancelFunc) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancelCause(parent)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.IsAborted() {
					cancel(schema.NewAbort(m.Reason()))
					return
				}
			}
		}
	}()

	return ctx, func() { cancel(nil) }
}

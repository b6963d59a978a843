package workspace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultAutosaveDelay = time.Second

// Autosaver debounces store writes from interactive editing. Each Set resets
// the shared timer; pending content is flushed once the delay elapses with no
// further edits. Close flushes whatever is still pending.
type Autosaver struct {
	store Store
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]string
}

func NewAutosaver(store Store, delay time.Duration) *Autosaver {
	if delay <= 0 {
		delay = defaultAutosaveDelay
	}
	return &Autosaver{
		store:   store,
		delay:   delay,
		pending: make(map[string]string),
	}
}

// Set schedules content for path. The path is validated immediately so bad
// input fails at the call site rather than at flush time.
func (a *Autosaver) Set(path, content string) error {
	rel, err := Normalize(path)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[rel] = content
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		_ = a.Flush()
	})
	return nil
}

// Flush writes all pending content now. Sets arriving during the flush land
// in the next batch.
func (a *Autosaver) Flush() error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	pending := a.pending
	a.pending = make(map[string]string)
	a.mu.Unlock()

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var errs []error
	for _, p := range paths {
		if err := a.store.Write(p, pending[p]); err != nil {
			errs = append(errs, fmt.Errorf("autosave %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// SetDelay changes the debounce delay for subsequent Sets. Content already
// scheduled keeps its original timer.
func (a *Autosaver) SetDelay(delay time.Duration) {
	if delay <= 0 {
		delay = defaultAutosaveDelay
	}
	a.mu.Lock()
	a.delay = delay
	a.mu.Unlock()
}

// Pending reports how many paths are waiting to be written.
func (a *Autosaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Autosaver) Close() error {
	return a.Flush()
}

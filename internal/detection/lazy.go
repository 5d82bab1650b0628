package detection

import (
	"errors"
	"log"
	"sync"
)

// ErrBackendUnavailable is returned when a lazily loaded backend failed to initialize.
var ErrBackendUnavailable = errors.New("backend unavailable")

// State is the load state of a lazily initialized backend.
type State int

const (
	Uninitialized State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Lazy loads a value at most once. A failed load is remembered and never retried.
type Lazy[T any] struct {
	name  string
	load  func() (T, error)
	quiet bool

	once  sync.Once
	mu    sync.RWMutex
	state State
	value T
	err   error
}

// NewLazy wraps load so that it runs on first use.
func NewLazy[T any](name string, load func() (T, error)) *Lazy[T] {
	return &Lazy[T]{name: name, load: load}
}

// Get returns the loaded value, triggering the load on first call.
func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		v, err := l.load()
		l.mu.Lock()
		defer l.mu.Unlock()
		if err != nil {
			l.state = Failed
			l.err = err
			if !l.quiet {
				log.Printf("[Detection] %s backend failed to load: %v", l.name, err)
			}
			return
		}
		l.state = Ready
		l.value = v
		if !l.quiet {
			log.Printf("[Detection] %s backend loaded", l.name)
		}
	})

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != Ready {
		var zero T
		return zero, errors.Join(ErrBackendUnavailable, l.err)
	}
	return l.value, nil
}

// State reports the current load state without triggering a load.
func (l *Lazy[T]) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Name is the backend name given at construction.
func (l *Lazy[T]) Name() string { return l.name }

// Derive returns a Lazy that resolves through base and converts its value.
// Loading the derived value loads base at most once.
func Derive[T, U any](base *Lazy[T], conv func(T) U) *Lazy[U] {
	return &Lazy[U]{name: base.name, quiet: true, load: func() (U, error) {
		v, err := base.Get()
		if err != nil {
			var zero U
			return zero, err
		}
		return conv(v), nil
	}}
}

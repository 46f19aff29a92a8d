package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrReconnect is returned when a dropped store could not be reopened.
var ErrReconnect = errors.New("storage: reconnect failed")

// Opener opens a fresh FactStore. It is called once at start and once per
// reconnect.
type Opener func(ctx context.Context) (FactStore, error)

// Managed owns a FactStore and transparently reopens it once when a health
// check fails.
//
// When to use:
//   - Wrap the store used by long-running loads, where a server restart or an
//     idle timeout may drop the connection between two batches.
//
// Edge cases:
//   - A failed ping closes the current store, reopens it and pings again.
//     If the reopen or the second ping fails, the error wraps ErrReconnect
//     and the handle stays closed until the next call tries again.
//   - A canceled context is returned as is and never triggers a reconnect.
//
// Concurrency:
//   - Do serializes its callers. Acquire does not; the returned store must be
//     used only through its own concurrency-safe methods.
type Managed struct {
	open Opener
	log  *slog.Logger

	mu         sync.Mutex
	cur        FactStore
	reconnects int
}

// Open creates a Managed handle for cfg using the registered backend.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Managed, error) {
	return NewManaged(ctx, func(ctx context.Context) (FactStore, error) {
		return New(ctx, cfg)
	}, log)
}

// NewManaged opens the first store through open and returns the handle.
func NewManaged(ctx context.Context, open Opener, log *slog.Logger) (*Managed, error) {
	if open == nil {
		return nil, fmt.Errorf("storage: nil opener")
	}
	if log == nil {
		log = slog.Default()
	}
	s, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return &Managed{open: open, log: log, cur: s}, nil
}

// Do runs fn against a healthy store. The handle is held for the duration of
// fn and released on every exit path.
func (m *Managed) Do(ctx context.Context, fn func(FactStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.healthyLocked(ctx)
	if err != nil {
		return err
	}
	return fn(s)
}

// Acquire returns the current store after a health check.
func (m *Managed) Acquire(ctx context.Context) (FactStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthyLocked(ctx)
}

func (m *Managed) healthyLocked(ctx context.Context) (FactStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.cur != nil {
		err := m.cur.Ping(ctx)
		if err == nil {
			return m.cur, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn("store ping failed; reconnecting", "err", err)
		m.cur.Close()
		m.cur = nil
	}

	s, err := m.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrReconnect, err)
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrReconnect, err)
	}
	m.cur = s
	m.reconnects++
	m.log.Info("store reconnected", "reconnects", m.reconnects)
	return s, nil
}

// Reconnects returns how many times the store was reopened.
func (m *Managed) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Close closes the current store. It is safe to call more than once.
func (m *Managed) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.cur.Close()
		m.cur = nil
	}
}

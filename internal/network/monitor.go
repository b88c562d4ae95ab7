package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/vetsync/pkg/logger"
)

// Prober checks whether the sync server is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor tracks connectivity and notifies listeners on offline to online transitions.
// The host reports changes through SetOnline; an optional prober can drive it instead.
type Monitor struct {
	online   atomic.Bool
	prober   Prober
	interval time.Duration
	logg     *logger.Logger

	mu        sync.RWMutex
	listeners []func(context.Context)
}

type Options struct {
	StartOnline   bool
	Prober        Prober
	ProbeInterval time.Duration
	Logger        *logger.Logger
}

func NewMonitor(opts Options) *Monitor {
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	m := &Monitor{
		prober:   opts.Prober,
		interval: opts.ProbeInterval,
		logg:     logg,
	}
	m.online.Store(opts.StartOnline)
	return m
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// OnOnline registers fn to run every time connectivity is restored.
func (m *Monitor) OnOnline(fn func(context.Context)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetOnline records the current state. Listeners run synchronously, only on a false to true transition.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	if !online {
		m.logg.Warn(ctx, "sync server unreachable; working offline")
		return
	}
	m.logg.Info(ctx, "connectivity restored")

	m.mu.RLock()
	listeners := append([]func(context.Context){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}

// Run probes the server on the configured interval until ctx is canceled.
// It returns immediately when no prober or interval is configured.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil || m.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.prober.Ping(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logg.Debug(m.logg.WithField(ctx, "error", err.Error()), "sync server probe failed")
	}
	m.SetOnline(ctx, err == nil)
}

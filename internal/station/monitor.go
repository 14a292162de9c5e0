package station

import (
	"context"
	"sync"
	"time"

	"labstream/internal/logger"
)

// DefaultRefresh is how often the monitor polls the station.
const DefaultRefresh = 10 * time.Second

// Snapshot is the monitor's latest view of the station.
type Snapshot struct {
	Overview  Overview  `json:"overview"`
	Tables    []Table   `json:"tables"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

// Monitor keeps the overview and run tables of one station fresh.
type Monitor struct {
	client   *Client
	interval time.Duration

	mu   sync.RWMutex
	snap Snapshot
}

// NewMonitor creates a monitor. Until the first refresh the station is
// reported offline.
func NewMonitor(client *Client, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultRefresh
	}
	return &Monitor{
		client:   client,
		interval: interval,
		snap:     Snapshot{Overview: OfflineOverview()},
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh polls the station once. Tables from the last good poll are kept
// when the tables call fails.
func (m *Monitor) Refresh(ctx context.Context) {
	next := Snapshot{UpdatedAt: time.Now()}

	ov, err := m.client.Overview(ctx)
	next.Overview = ov
	if err != nil {
		logger.Warn("[station] overview failed: %v", err)
		next.Error = err.Error()
	}

	tables, err := m.client.RunTables(ctx)
	if err != nil {
		logger.Warn("[station] run tables failed: %v", err)
		if next.Error == "" {
			next.Error = err.Error()
		}
		m.mu.RLock()
		tables = m.snap.Tables
		m.mu.RUnlock()
	}
	next.Tables = tables

	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
}

// Snapshot returns the latest station state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

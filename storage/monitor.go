/*
	This file implements a monitor of access bandwidth.  Accesses keep running
	totals in their Statistics and the monitor turns them into rates.
*/

package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMonitorInterval is the sampling interval of NewMonitor(0).
const DefaultMonitorInterval = time.Second

// Load is the traffic of an access during the last monitor interval.
type Load struct {
	ReadsPerSec        float64 `json:"reads_per_sec"`
	WritesPerSec       float64 `json:"writes_per_sec"`
	BytesReadPerSec    float64 `json:"bytes_read_per_sec"`
	BytesWrittenPerSec float64 `json:"bytes_written_per_sec"`
	Total              Statistics
}

// Monitor samples the statistics of named accesses once per interval.
type Monitor struct {
	interval time.Duration

	mu       sync.Mutex
	accesses map[string]Access
	last     map[string]Statistics
	lastTime time.Time
	loads    map[string]Load
}

// NewMonitor returns a monitor sampling every interval.  Call Run to start it.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		interval: interval,
		accesses: make(map[string]Access),
		last:     make(map[string]Statistics),
		loads:    make(map[string]Load),
		lastTime: time.Now(),
	}
}

// Add starts monitoring an access under name, replacing any previous one.
func (m *Monitor) Add(name string, a Access) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses[name] = a
	m.last[name] = a.Stats()
	delete(m.loads, name)
}

// Remove stops monitoring name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accesses, name)
	delete(m.last, name)
	delete(m.loads, name)
}

// Names returns the monitored names in sorted order.
func (m *Monitor) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.accesses))
	for name := range m.accesses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sample computes the rates since the previous sample.
func (m *Monitor) Sample() {
	m.sampleAt(time.Now())
}

func (m *Monitor) sampleAt(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secs := now.Sub(m.lastTime).Seconds()
	m.lastTime = now
	if secs <= 0 {
		return
	}
	for name, a := range m.accesses {
		cur := a.Stats()
		prev := m.last[name]
		m.loads[name] = Load{
			ReadsPerSec:        float64(cur.Reads-prev.Reads) / secs,
			WritesPerSec:       float64(cur.Writes-prev.Writes) / secs,
			BytesReadPerSec:    float64(cur.BytesRead-prev.BytesRead) / secs,
			BytesWrittenPerSec: float64(cur.BytesWritten-prev.BytesWritten) / secs,
			Total:              cur,
		}
		m.last[name] = cur
	}
}

// Loads returns the rates of the last interval per name.  Accesses added
// since the last sample are not included.
func (m *Monitor) Loads() map[string]Load {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Load, len(m.loads))
	for name, load := range m.loads {
		out[name] = load
	}
	return out
}

// Run samples until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	tick := time.NewTicker(m.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			m.sampleAt(now)
		}
	}
}

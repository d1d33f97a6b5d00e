// Package usage accounts for the tokens spent by LLM extraction calls.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medintake/internal/logging"
)

type (
	trackerKey struct{}
	sessionKey struct{}
)

// Tracker records token usage and persists it with a debounced write.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	mu        sync.Mutex
	data      UsageData
	filePath  string
	saveDelay time.Duration
	timer     *time.Timer
}

// NewTracker loads or creates dir/usage.json. An empty dir keeps the
// counters in memory only.
func NewTracker(dir string) (*Tracker, error) {
	t := &Tracker{
		data:      UsageData{Version: "1.0", Aggregate: newAggregate()},
		saveDelay: 5 * time.Second,
	}
	if dir == "" {
		return t, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	t.filePath = filepath.Join(dir, "usage.json")
	if err := t.Load(); err != nil {
		logging.StoreDebug("usage file unreadable, starting empty: %v", err)
	}
	return t, nil
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	loaded := UsageData{Aggregate: newAggregate()}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	fill := func(m *map[string]TokenCounts) {
		if *m == nil {
			*m = make(map[string]TokenCounts)
		}
	}
	fill(&loaded.Aggregate.ByProvider)
	fill(&loaded.Aggregate.ByModel)
	fill(&loaded.Aggregate.ByOperation)
	fill(&loaded.Aggregate.BySession)
	t.data = loaded
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	if t.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records one completed LLM call. The session is taken from ctx.
func (t *Tracker) Track(ctx context.Context, provider, model string, input, output int, operation string) {
	if t == nil {
		return
	}
	sessionID := SessionFromContext(ctx)
	if sessionID == "" {
		sessionID = "unknown"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(input, output)
	addToMap(t.data.Aggregate.ByProvider, provider, input, output)
	addToMap(t.data.Aggregate.ByModel, model, input, output)
	addToMap(t.data.Aggregate.ByOperation, operation, input, output)
	addToMap(t.data.Aggregate.BySession, sessionID, input, output)

	if t.filePath != "" && t.timer == nil {
		t.timer = time.AfterFunc(t.saveDelay, func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.timer = nil
			if err := t.saveLocked(); err != nil {
				logging.StoreError("failed to save usage: %v", err)
			}
		})
	}
}

// Close cancels a pending debounced write and saves synchronously.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return t.saveLocked()
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	if t == nil {
		return newAggregate()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.BySession = copyTokenCountsMap(stats.BySession)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext retrieves the tracker from the context, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// WithSession tags ctx with the conversation being served.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session tag of ctx.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

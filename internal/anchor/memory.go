// Package anchor keeps persistent per-anchor trade statistics, written as a
// single whole-file rewrite on every update, following the same
// load-on-startup/whole-file-persist idiom as notification_service.go's
// chat-ID file, generalized from a scalar to a keyed collection.
package anchor

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"densityradar/internal/model"
)

// Memory holds every anchor's accumulated trade statistics.
type Memory struct {
	mu       sync.Mutex
	path     string
	logger   *log.Logger
	byKey    map[string]*model.AnchorStats
}

// New loads anchor stats from path if present; an absent file starts
// empty. A malformed file is logged and treated as empty, never fatal.
func New(path string, logger *log.Logger) *Memory {
	if logger == nil {
		logger = log.Default()
	}
	m := &Memory{
		path:   path,
		logger: logger,
		byKey:  make(map[string]*model.AnchorStats),
	}
	m.load()
	return m
}

func (m *Memory) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Printf("⚠️ anchor memory: failed to read %s: %v", m.path, err)
		}
		return
	}
	var list []model.AnchorStats
	if err := json.Unmarshal(data, &list); err != nil {
		m.logger.Printf("⚠️ anchor memory: failed to parse %s: %v", m.path, err)
		return
	}
	for i := range list {
		stat := list[i]
		m.byKey[stat.AnchorId.Key()] = &stat
	}
}

func (m *Memory) persist() {
	list := make([]model.AnchorStats, 0, len(m.byKey))
	for _, s := range m.byKey {
		list = append(list, *s)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		m.logger.Printf("⚠️ anchor memory: failed to marshal stats: %v", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		m.logger.Printf("⚠️ anchor memory: failed to persist %s: %v", m.path, err)
	}
}

// Get returns a copy of the stats for id, or false if unknown.
func (m *Memory) Get(id model.AnchorId) (model.AnchorStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[id.Key()]
	if !ok {
		return model.AnchorStats{}, false
	}
	return *s, true
}

// RecordTrade updates (or creates) the anchor's statistics for a closed
// trade with the given USD PnL and size, then persists the whole file.
func (m *Memory) RecordTrade(id model.AnchorId, pnlUsd, size float64, closedAt int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byKey[id.Key()]
	if !ok {
		s = &model.AnchorStats{AnchorId: id}
		m.byKey[id.Key()] = s
	}

	closedTime := asTime(closedAt)
	if s.TotalTrades == 0 {
		s.FirstTradeAt = closedTime
	}
	s.TotalTrades++
	switch {
	case pnlUsd > 0:
		s.WinTrades++
	case pnlUsd < 0:
		s.LossTrades++
	}
	s.TotalPnlUsd += pnlUsd

	pnlPercent := 0.0
	if size != 0 {
		pnlPercent = pnlUsd / size * 100
	}
	// Running mean over all trades recorded so far.
	n := float64(s.TotalTrades)
	s.AvgPnlPercent = s.AvgPnlPercent*(n-1)/n + pnlPercent/n
	s.LastTradeAt = closedTime
	s.LastTradeSize = size

	m.persist()
}

func asTime(unixMs int64) time.Time {
	if unixMs == 0 {
		return time.Now()
	}
	return time.UnixMilli(unixMs)
}

// CanTrade reports whether a new entry against id is allowed: true for an
// unknown anchor, or when its recorded win count is below maxWins.
func (m *Memory) CanTrade(id model.AnchorId, maxWins int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[id.Key()]
	if !ok {
		return true
	}
	return s.WinTrades < maxWins
}

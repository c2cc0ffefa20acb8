package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateNatrShockSumsAbsoluteDeltas(t *testing.T) {
	h := New()
	base := time.Now()
	h.UpdateNatrHistory("BTC", 1.0, base)
	h.UpdateNatrHistory("BTC", 1.5, base.Add(time.Minute))
	h.UpdateNatrHistory("BTC", 1.2, base.Add(2*time.Minute))

	shock := h.CalculateNatrShock("btc", int64((30 * time.Minute).Milliseconds()), base.Add(2*time.Minute))
	assert.InDelta(t, 0.8, shock, 1e-9)
}

func TestCalculateNatrShockRequiresTwoSamples(t *testing.T) {
	h := New()
	now := time.Now()
	h.UpdateNatrHistory("ETH", 1.0, now)
	assert.Equal(t, 0.0, h.CalculateNatrShock("ETH", int64((time.Hour).Milliseconds()), now))
}

func TestUpdateNatrHistoryPrunesOldSamples(t *testing.T) {
	h := New()
	now := time.Now()
	h.UpdateNatrHistory("SOL", 1.0, now.Add(-2*time.Hour))
	h.UpdateNatrHistory("SOL", 2.0, now)

	shock := h.CalculateNatrShock("SOL", int64((3 * time.Hour).Milliseconds()), now)
	// The 2h-old sample was pruned by the 1h retention window, so only one
	// sample remains and shock is 0.
	assert.Equal(t, 0.0, shock)
}

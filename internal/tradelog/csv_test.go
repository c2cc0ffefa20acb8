package tradelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densityradar/internal/model"
)

func TestRecordClosedTradeWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	sink := NewCsvSink(dir, nil)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.RecordClosedTrade(model.ClosedTrade{Timestamp: ts, Coin: "BTC", Side: model.PositionLong, Reason: "tp_hit"})
	sink.RecordClosedTrade(model.ClosedTrade{Timestamp: ts, Coin: "ETH", Side: model.PositionShort, Reason: "tp_hit"})

	data, err := os.ReadFile(filepath.Join(dir, "trades_2026-01-02.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,coin,side,anchorPrice,entryPrice,exitPrice,sizeUsd,pnlUsd,pnlPercent,reason,anchorTotalTrades,anchorWinTrades", lines[0])
	assert.Contains(t, lines[1], "BTC")
	assert.Contains(t, lines[2], "ETH")
}

func TestQuoteCsvFieldWrapsSpecialCharacters(t *testing.T) {
	assert.Equal(t, "plain", quoteCsvField("plain"))
	assert.Equal(t, `"has,comma"`, quoteCsvField("has,comma"))
	assert.Equal(t, `"has ""quote"""`, quoteCsvField(`has "quote"`))
	assert.Equal(t, "\"has\nnewline\"", quoteCsvField("has\nnewline"))
}

func TestRecordClosedTradeReasonContainingCommaIsQuoted(t *testing.T) {
	dir := t.TempDir()
	sink := NewCsvSink(dir, nil)
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	sink.RecordClosedTrade(model.ClosedTrade{Timestamp: ts, Coin: "BTC", Reason: "emergency_stop_loss_pnl=-12.5,escalated"})

	data, err := os.ReadFile(filepath.Join(dir, "trades_2026-01-02.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"emergency_stop_loss_pnl=-12.5,escalated"`)
}

// Package tradelog implements the two append-only sinks every closed
// trade and operational log line flows through: a daily CSV of closed
// trades and a size/date-rotated JSON-line operational log, adapted from
// the teacher's plain stdout logging into durable on-disk records.
package tradelog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"densityradar/internal/model"
)

var csvHeader = []string{
	"timestamp", "coin", "side", "anchorPrice", "entryPrice", "exitPrice",
	"sizeUsd", "pnlUsd", "pnlPercent", "reason", "anchorTotalTrades", "anchorWinTrades",
}

// CsvSink appends one row per closed trade to a daily file, opened fresh
// on every write rather than kept open, since this sink is genuinely
// append-only and never needs the whole-file rewrite idiom C5 uses.
type CsvSink struct {
	dir    string
	logger *log.Logger
}

// NewCsvSink creates a sink writing trades_YYYY-MM-DD.csv files under dir.
func NewCsvSink(dir string, logger *log.Logger) *CsvSink {
	if logger == nil {
		logger = log.Default()
	}
	return &CsvSink{dir: dir, logger: logger}
}

// RecordClosedTrade appends trade's fields as one CSV row, writing the
// header first if the file is new.
func (s *CsvSink) RecordClosedTrade(trade model.ClosedTrade) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Printf("⚠️ tradelog: failed to create %s: %v", s.dir, err)
		return
	}
	ts := trade.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	path := filepath.Join(s.dir, fmt.Sprintf("trades_%s.csv", ts.Format("2006-01-02")))

	needsHeader := false
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Printf("⚠️ tradelog: failed to open %s: %v", path, err)
		return
	}
	defer f.Close()

	if needsHeader {
		if _, err := f.WriteString(joinCsvRow(csvHeader) + "\n"); err != nil {
			s.logger.Printf("⚠️ tradelog: failed to write header to %s: %v", path, err)
			return
		}
	}

	row := []string{
		ts.Format(time.RFC3339),
		trade.Coin,
		string(trade.Side),
		fmt.Sprintf("%.8f", trade.AnchorPrice),
		fmt.Sprintf("%.8f", trade.EntryPrice),
		fmt.Sprintf("%.8f", trade.ExitPrice),
		fmt.Sprintf("%.2f", trade.SizeUsd),
		fmt.Sprintf("%.2f", trade.PnlUsd),
		fmt.Sprintf("%.4f", trade.PnlPercent),
		trade.Reason,
		fmt.Sprintf("%d", trade.AnchorTotalTrades),
		fmt.Sprintf("%d", trade.AnchorWinTrades),
	}
	if _, err := f.WriteString(joinCsvRow(row) + "\n"); err != nil {
		s.logger.Printf("⚠️ tradelog: failed to append row to %s: %v", path, err)
	}
}

func joinCsvRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteCsvField(f)
	}
	return strings.Join(quoted, ",")
}

// quoteCsvField wraps f in double quotes (doubling any inner quote) if it
// contains a comma, quote or newline.
func quoteCsvField(f string) string {
	if !strings.ContainsAny(f, ",\"\n") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}

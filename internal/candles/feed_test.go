package candles

import (
	"context"
	"log"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densityradar/internal/model"
)

type fakeSource struct {
	klines []*futures.Kline
	err    error
}

func (f *fakeSource) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	return f.klines, f.err
}

type fakeSink struct {
	calls []model.Candle
}

func (f *fakeSink) Update(coin string, candle model.Candle) (float64, bool) {
	f.calls = append(f.calls, candle)
	return 0, false
}

func TestFeedTickUsesSecondToLastKline(t *testing.T) {
	src := &fakeSource{klines: []*futures.Kline{
		{OpenTime: 1, Open: "1", High: "2", Low: "0.5", Close: "1.5"},
		{OpenTime: 2, Open: "1.5", High: "2.5", Low: "1", Close: "2"},
	}}
	sink := &fakeSink{}
	f := New(src, sink, 0, log.Default())
	f.TrackCoin("btc")

	f.tick(context.Background())

	require.Len(t, sink.calls, 1)
	assert.Equal(t, int64(1), sink.calls[0].TimestampMs)
	assert.InDelta(t, 1.5, sink.calls[0].Close, 1e-9)
}

func TestFeedTickSkipsFailingCoinWithoutAborting(t *testing.T) {
	src := &fakeSource{err: assert.AnError}
	sink := &fakeSink{}
	f := New(src, sink, 0, log.Default())
	f.TrackCoin("btc")
	f.TrackCoin("eth")

	assert.NotPanics(t, func() { f.tick(context.Background()) })
	assert.Empty(t, sink.calls)
}

func TestNormalizeAppendsUsdt(t *testing.T) {
	assert.Equal(t, "BTCUSDT", normalize("btc"))
	assert.Equal(t, "ETHUSDT", normalize("ETHUSDT"))
}

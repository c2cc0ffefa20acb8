// Package candles polls closed 5-minute candles for a set of tracked coins
// and forwards each to the NATR calculator, following the
// NewKlinesService()...Do(context.Background()) polling idiom used
// throughout the teacher's technical-analysis code.
package candles

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"densityradar/internal/model"
)

// Sink receives a closed candle for a coin. internal/natr.Calculator
// satisfies this.
type Sink interface {
	Update(coin string, candle model.Candle) (float64, bool)
}

// KlineSource is the subset of the futures client the feed needs; narrowed
// to ease testing with a fake.
type KlineSource interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error)
}

// binanceKlineSource adapts *futures.Client to KlineSource.
type binanceKlineSource struct {
	client *futures.Client
}

func (b *binanceKlineSource) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	return b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
}

// NewBinanceSource wraps a live futures client as a KlineSource.
func NewBinanceSource(client *futures.Client) KlineSource {
	return &binanceKlineSource{client: client}
}

// Feed periodically polls the latest closed 5m candle for every tracked
// coin and pushes it into Sink.
type Feed struct {
	mu       sync.Mutex
	coins    map[string]struct{}
	source   KlineSource
	sink     Sink
	interval time.Duration
	logger   *log.Logger
}

// New creates a Feed with the given poll interval (defaulting to 20s).
func New(source KlineSource, sink Sink, interval time.Duration, logger *log.Logger) *Feed {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Feed{
		coins:    make(map[string]struct{}),
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// TrackCoin adds coin to the polled set. Idempotent; coins are never
// removed by the core.
func (f *Feed) TrackCoin(coin string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coins[normalize(coin)] = struct{}{}
}

func normalize(coin string) string {
	coin = strings.ToUpper(coin)
	if !strings.HasSuffix(coin, "USDT") {
		coin += "USDT"
	}
	return coin
}

// Run blocks, ticking every interval until ctx is cancelled. A fetch
// failure for one coin is logged and skipped; it never aborts the tick.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *Feed) tick(ctx context.Context) {
	f.mu.Lock()
	coins := make([]string, 0, len(f.coins))
	for c := range f.coins {
		coins = append(coins, c)
	}
	f.mu.Unlock()

	for _, symbol := range coins {
		candle, err := f.fetchLatestClosed(ctx, symbol)
		if err != nil {
			f.logger.Printf("⚠️ candle feed: %s fetch failed: %v", symbol, err)
			continue
		}
		f.sink.Update(strings.TrimSuffix(symbol, "USDT"), candle)
	}
}

// fetchLatestClosed returns the second-to-last bar from a 2-bar window,
// since the most recent bar returned by the exchange is still forming.
func (f *Feed) fetchLatestClosed(ctx context.Context, symbol string) (model.Candle, error) {
	klines, err := f.source.FetchKlines(ctx, symbol, "5m", 2)
	if err != nil {
		return model.Candle{}, err
	}
	if len(klines) < 2 {
		return model.Candle{}, errNotEnoughCandles(symbol)
	}
	k := klines[len(klines)-2]
	return parseKline(k)
}

func parseKline(k *futures.Kline) (model.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return model.Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return model.Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return model.Candle{}, err
	}
	closeP, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		TimestampMs: k.OpenTime,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
	}, nil
}

type notEnoughCandlesErr struct{ symbol string }

func (e notEnoughCandlesErr) Error() string { return "not enough candles for " + e.symbol }

func errNotEnoughCandles(symbol string) error { return notEnoughCandlesErr{symbol: symbol} }

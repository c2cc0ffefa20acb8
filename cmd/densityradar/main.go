// Command densityradar wires every subsystem and runs the density-anchor
// bounce bot, mirroring the wiring order of the teacher's main(): config,
// clients, detectors, memory, policy, execution, ledger, trading module,
// alerting/listing, HTTP health endpoint, then signal handling.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"densityradar/internal/alert"
	"densityradar/internal/anchor"
	"densityradar/internal/bounce"
	"densityradar/internal/candles"
	"densityradar/internal/config"
	"densityradar/internal/detector"
	"densityradar/internal/execution"
	"densityradar/internal/features"
	"densityradar/internal/ledger"
	"densityradar/internal/listing"
	"densityradar/internal/model"
	"densityradar/internal/natr"
	"densityradar/internal/orderbook"
	"densityradar/internal/policy"
	"densityradar/internal/scheduler"
	"densityradar/internal/tradelog"
)

// midTracker feeds execution.Paper's MidPriceSource dependency, updated
// from every order-book snapshot as it passes through the detector.
type midTracker struct {
	mu   sync.Mutex
	mids map[string]float64
}

func newMidTracker() *midTracker {
	return &midTracker{mids: make(map[string]float64)}
}

func (m *midTracker) update(coin string, mid float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids[coin] = mid
}

func (m *midTracker) LastMid(coin string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.mids[coin]
	return v, ok
}

// natrFeatureSink forwards every candle-derived NATR value into both the
// steady-state calculator and the shock-feature history, satisfying
// candles.Sink with a single composite Update.
type natrFeatureSink struct {
	calc     *natr.Calculator
	features *features.History
	gauge    *prometheus.GaugeVec
}

func (s *natrFeatureSink) Update(coin string, candle model.Candle) (float64, bool) {
	value, ok := s.calc.Update(coin, candle)
	if !ok {
		return value, ok
	}
	s.features.UpdateNatrHistory(coin, value, time.Now())
	s.gauge.WithLabelValues(coin).Set(value)
	return value, ok
}

// tradeSubscriberAdapter satisfies bounce.TradeSubscriber over an
// orderbook.Client without exposing orderbook.TradeCallback's named type
// to the bounce package, keeping the trading module decoupled from the
// concrete market-data client per §9's capability-injection note.
type tradeSubscriberAdapter struct {
	client *orderbook.Client
}

func (a tradeSubscriberAdapter) SubscribeTrades(coin string, cb func(model.Trade)) {
	a.client.SubscribeTrades(coin, func(t model.Trade) { cb(t) })
}

// metricsTradeSink wraps a TradeSink to also increment a Prometheus
// counter, keeping the CSV sink itself free of metrics concerns.
type metricsTradeSink struct {
	inner   ledger.TradeSink
	counter prometheus.Counter
}

func (s *metricsTradeSink) RecordClosedTrade(trade model.ClosedTrade) {
	s.inner.RecordClosedTrade(trade)
	s.counter.Inc()
}

func main() {
	log.Println("🛰️ densityradar starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	rotWriter, err := tradelog.NewRotatingWriter("logs")
	if err != nil {
		log.Fatalf("❌ operational log: %v", err)
	}
	defer rotWriter.Close()
	logger := log.New(rotWriter, "", log.LstdFlags)
	log.SetOutput(rotWriter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- clients -----------------------------------------------------
	mids := newMidTracker()

	obClient := orderbook.New(cfg.ExchangeWsUrl, logger)

	futuresKlineClient := binance.NewFuturesClient(cfg.BinanceApiKey, cfg.BinanceApiSecret)

	// ---- detectors / memory -------------------------------------------
	natrGauge := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "densityradar_natr_percent",
		Help: "Last computed NATR percent per coin.",
	}, []string{"coin"})

	natrCalc := natr.New(cfg.TradeNatrPeriod)
	featureHistory := features.New()
	candleSink := &natrFeatureSink{calc: natrCalc, features: featureHistory, gauge: natrGauge}
	candleFeed := candles.New(candles.NewBinanceSource(futuresKlineClient), candleSink, 20*time.Second, logger)

	anchorMemory := anchor.New(cfg.PolicyAnchorMemoryFile, logger)

	// ---- policy ---------------------------------------------------------
	var policyEngine *policy.Engine
	if cfg.PolicyEnabled {
		policyEngine = policy.Load(cfg.PolicyRulesFile, logger)
	} else {
		policyEngine = policy.Load("", logger)
	}

	// ---- execution --------------------------------------------------------
	var engine execution.Engine
	switch cfg.TradeExecutionVenue {
	case config.VenueBinance:
		binanceEngine := execution.NewBinance(futuresKlineClient, 10, logger)
		if err := binanceEngine.LoadExchangeInfo(ctx); err != nil {
			log.Fatalf("❌ exchangeInfo: %v", err)
		}
		if positions, err := binanceEngine.SyncOpenPositions(ctx); err != nil {
			logger.Printf("⚠️ startup reconciliation failed: %v", err)
		} else if len(positions) > 0 {
			logger.Printf("⚠️ %d exchange position(s) exist outside core ownership at startup", len(positions))
		}
		engine = binanceEngine
	default:
		engine = execution.NewPaper(mids, logger)
	}

	// ---- trade logging ----------------------------------------------------
	tradesClosedCounter := promauto.NewCounter(prometheus.CounterOpts{
		Name: "densityradar_trades_closed_total",
		Help: "Total number of closed positions/partials recorded.",
	})
	csvSink := tradelog.NewCsvSink("trades", logger)
	tradeSink := &metricsTradeSink{inner: csvSink, counter: tradesClosedCounter}

	// ---- ledger -------------------------------------------------------
	ledgerCfg := ledger.Config{
		EntryMode:                   ledger.EntryMode(cfg.TradeEntryMode),
		PositionSizeUsd:             cfg.TradePositionSizeUsd,
		MaxRiskPerTrade:             cfg.TradeMaxRiskPerTrade,
		RiskNatrMultiplier:          cfg.TradeRiskNatrMultiplier,
		MaxOpenPositions:            cfg.TradeMaxOpenPositions,
		TpNatrLevels:                cfg.TradeTpNatrLevels,
		TpPercents:                  cfg.TradeTpPercents,
		AnchorMinValueFraction:      cfg.TradeAnchorMinValueFraction,
		AnchorMinValueUsd:           cfg.TradeAnchorMinValueUsd,
		EntryLimitNatrMin:           cfg.TradeEntryLimitNatrMin,
		EntryLimitNatrMax:           cfg.TradeEntryLimitNatrMax,
		EntryLimitProportions:       cfg.TradeEntryLimitProportions,
		EntryLimitDensityMinPercent: cfg.TradeEntryLimitDensityMinPct,
		TpLimitProportions:          cfg.TradeTpLimitProportions,
		EntryMarketPercent:          cfg.TradeEntryMarketPercent,
		EntryLimitPercent:           cfg.TradeEntryLimitPercent,
		MaxAnchorWins:               cfg.TradeMaxAnchorWins,
	}
	led := ledger.New(ledgerCfg, engine, policyEngine, anchorMemory, natrCalc, featureHistory, tradeSink, logger)

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "densityradar_open_positions",
		Help: "Currently open position count.",
	}, func() float64 { return float64(led.OpenPositionsCount()) })

	// ---- trading module / scheduler ------------------------------------
	sched := scheduler.New(2000, logger)
	bounceModule := bounce.New(bounce.Config{
		TradeEnabled:     cfg.TradeEnabled,
		Mode:             bounce.Mode(cfg.TradeMode),
		MaxOpenPositions: cfg.TradeMaxOpenPositions,
		MaxRiskPerTrade:  cfg.TradeMaxRiskPerTrade,
		PnlCheckInterval: time.Duration(cfg.TradeRiskPnlCheckIntervalMs) * time.Millisecond,
	}, led, natrCalc, tradeSubscriberAdapter{client: obClient}, sched, logger)

	go sched.Run(ctx, bounceModule.Dispatch)
	go bounceModule.RunPnlSupervisorLoop(ctx)

	// ---- alerting / listing ---------------------------------------------
	alertSink := alert.New(cfg.TelegramBotToken, cfg.TelegramChatId, time.Duration(cfg.AlertCooldownMs)*time.Millisecond, logger)
	listingWatcher := listing.New(cfg.ExchangeInfoUrl, cfg.ListingStateFile, time.Duration(cfg.ListingPollIntervalSec)*time.Second, alertSink, logger)
	go listingWatcher.Run(ctx)

	// ---- book stream wiring ------------------------------------------
	thresholds := detector.Thresholds{
		DefaultMinOrderSizeUsd: cfg.MinOrderSizeUsd,
		PerCoinMinOrderSizeUsd: cfg.PerCoinMinOrderSizeUsd,
		MaxDistancePercent:     cfg.MaxDistancePercent,
	}
	obClient.SubscribeAllAssets(func(snapshot model.OrderBookSnapshot) {
		if mid, ok := snapshot.Mid(); ok {
			mids.update(snapshot.Coin, mid)
		}
		for _, order := range detector.Detect(snapshot, thresholds) {
			candleFeed.TrackCoin(order.Coin)
			alertSink.Notify(order)
			sched.TrySend(scheduler.Message{Kind: scheduler.KindOpenRequest, LargeOrder: order})
		}
		sched.TrySend(scheduler.Message{Kind: scheduler.KindSnapshot, Snapshot: snapshot})
	})
	go obClient.Run(ctx)
	go candleFeed.Run(ctx)

	// ---- HTTP health / metrics --------------------------------------------
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.HealthPort), Handler: mux}
	go func() {
		logger.Printf("🌐 health/metrics server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("❌ health server: %v", err)
		}
	}()

	log.Println("✅ all systems go")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 shutdown signal received, draining")
	cancel()
	bounceModule.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}


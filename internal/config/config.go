// Package config loads the process configuration from a .env file plus
// the environment, following config/loader.go's env-var-with-typed-default
// shape, extended with CSV/list parsing for the trade-ladder arrays.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ExecutionVenue selects which Engine implementation backs trading.
type ExecutionVenue string

const (
	VenuePaper       ExecutionVenue = "PAPER"
	VenueHyperliquid ExecutionVenue = "HYPERLIQUID"
	VenueBinance     ExecutionVenue = "BINANCE"
)

// Config is the full process configuration surface.
type Config struct {
	// Detector / alerting.
	MinOrderSizeUsd        float64
	MaxDistancePercent     float64
	AlertCooldownMs        int64
	PerCoinMinOrderSizeUsd map[string]float64

	// Trading gates.
	TradeEnabled        bool
	TradeMode           string
	TradeExecutionVenue ExecutionVenue
	TradeEntryMode      string

	// Sizing / risk.
	TradePositionSizeUsd        float64
	TradeMaxRiskPerTrade        float64
	TradeRiskNatrMultiplier     float64
	TradeRiskPnlCheckIntervalMs int64
	TradeMaxOpenPositions       int

	// NATR / TP ladder.
	TradeNatrPeriod              int
	TradeTpNatrLevels            []float64
	TradeTpPercents              []float64
	TradeSlTickOffset            float64
	TradeAnchorMinValueFraction  float64
	TradeAnchorMinValueUsd       float64
	TradeEntryLimitNatrMin       float64
	TradeEntryLimitNatrMax       float64
	TradeEntryLimitProportions   []float64
	TradeEntryLimitDensityMinPct float64
	TradeTpLimitProportions      []float64
	TradeEntryMarketPercent      float64
	TradeEntryLimitPercent       float64
	TradeMaxAnchorWins           int

	// Policy.
	PolicyEnabled          bool
	PolicyRulesFile        string
	PolicyAnchorMemoryFile string

	// Ambient services.
	TelegramBotToken      string
	TelegramChatId        int64
	ListingPollIntervalSec int
	ListingStateFile       string
	HealthPort             int

	// Binance live credentials, consulted only when TradeExecutionVenue=BINANCE.
	BinanceApiKey    string
	BinanceApiSecret string

	// Exchange endpoints for the order-book stream (C3) and listing watcher (C14).
	ExchangeWsUrl   string
	ExchangeInfoUrl string
}

// Load reads .env (best-effort) then the process environment. It returns
// an error only for the one genuinely fatal case: an unsupported
// execution venue.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, relying on system environment variables")
	}

	cfg := &Config{
		MinOrderSizeUsd:        getFloat("MIN_ORDER_SIZE_USD", 1_000_000),
		MaxDistancePercent:     getFloat("MAX_DISTANCE_PERCENT", 0.5),
		AlertCooldownMs:        getInt64("ALERT_COOLDOWN_MS", 60_000),
		PerCoinMinOrderSizeUsd: parseCoinOverrides(getString("PER_COIN_MIN_ORDER_SIZE_USD", "")),

		TradeEnabled:        getBool("TRADE_ENABLED", false),
		TradeMode:           getString("TRADE_MODE", "SCREEN_ONLY"),
		TradeExecutionVenue: ExecutionVenue(getString("TRADE_EXECUTION_VENUE", "PAPER")),
		TradeEntryMode:      getString("TRADE_ENTRY_MODE", "MARKET"),

		TradePositionSizeUsd:        getFloat("TRADE_POSITION_SIZE_USD", 1000),
		TradeMaxRiskPerTrade:        getFloat("TRADE_MAX_RISK_PER_TRADE", 0),
		TradeRiskNatrMultiplier:     getFloat("TRADE_RISK_NATR_MULTIPLIER", 1),
		TradeRiskPnlCheckIntervalMs: getInt64("TRADE_RISK_PNL_CHECK_INTERVAL_MS", 4000),
		TradeMaxOpenPositions:       getInt("TRADE_MAX_OPEN_POSITIONS", 3),

		TradeNatrPeriod:              getInt("TRADE_NATR_PERIOD", 14),
		TradeTpNatrLevels:            parseCSVFloats(getString("TRADE_TP_NATR_LEVELS", "2,3")),
		TradeTpPercents:              parseCSVFloats(getString("TRADE_TP_PERCENTS", "50,50")),
		TradeSlTickOffset:            getFloat("TRADE_SL_TICK_OFFSET", 0),
		TradeAnchorMinValueFraction:  getFloat("TRADE_ANCHOR_MIN_VALUE_FRACTION", 0.5),
		TradeAnchorMinValueUsd:       getFloat("TRADE_ANCHOR_MIN_VALUE_USD", 500_000),
		TradeEntryLimitDensityMinPct: getFloat("TRADE_ENTRY_LIMIT_DENSITY_MIN_PERCENT", 30),
		TradeTpLimitProportions:      parseCSVFloats(getString("TRADE_TP_LIMIT_PROPORTIONS", "")),
		TradeEntryMarketPercent:      getFloat("TRADE_ENTRY_MARKET_PERCENT", 50),
		TradeEntryLimitPercent:       getFloat("TRADE_ENTRY_LIMIT_PERCENT", 50),
		TradeMaxAnchorWins:           getInt("TRADE_MAX_ANCHOR_WINS", 3),

		PolicyEnabled:          getBool("POLICY_ENABLED", true),
		PolicyRulesFile:        getString("POLICY_RULES_FILE", "policy_rules.yaml"),
		PolicyAnchorMemoryFile: getString("POLICY_ANCHOR_MEMORY_FILE", "anchor_memory.json"),

		TelegramBotToken:       getString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatId:         getInt64("TELEGRAM_CHAT_ID", 0),
		ListingPollIntervalSec: getInt("LISTING_POLL_INTERVAL_SEC", 300),
		ListingStateFile:       getString("LISTING_STATE_FILE", "listing_state.json"),
		HealthPort:             getInt("HEALTH_PORT", 8080),

		BinanceApiKey:    getString("BINANCE_API_KEY", ""),
		BinanceApiSecret: getString("BINANCE_API_SECRET", ""),

		ExchangeWsUrl:   getString("EXCHANGE_WS_URL", "wss://api.hyperliquid.xyz/ws"),
		ExchangeInfoUrl: getString("EXCHANGE_INFO_URL", "https://api.hyperliquid.xyz/info"),
	}

	natrRange := parseCSVFloats(getString("TRADE_ENTRY_LIMIT_NATR_RANGE", "0.5,2"))
	if len(natrRange) >= 2 {
		cfg.TradeEntryLimitNatrMin, cfg.TradeEntryLimitNatrMax = natrRange[0], natrRange[1]
	}
	cfg.TradeEntryLimitProportions = parseCSVFloats(getString("TRADE_ENTRY_LIMIT_PROPORTIONS", "1"))

	if cfg.TradeExecutionVenue == VenueHyperliquid {
		return nil, fmt.Errorf("config: tradeExecutionVenue=HYPERLIQUID is not implemented, use PAPER or BINANCE")
	}

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// parseCSVFloats parses a comma-separated list of floats, skipping any
// token that fails to parse, e.g. "2,3" -> [2,3].
func parseCSVFloats(raw string) []float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []float64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// parseCoinOverrides parses "COIN:VALUE,COIN:VALUE,..." into a map,
// uppercasing coin symbols for consistent lookups.
func parseCoinOverrides(raw string) map[string]float64 {
	out := make(map[string]float64)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		coin := strings.ToUpper(strings.TrimSpace(parts[0]))
		val, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || coin == "" {
			continue
		}
		out[coin] = val
	}
	return out
}

package orderbook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// rawLevel accepts either a pair-array ([price, size, ...]) or a keyed
// object ({price|px, size|sz}) shape for a single order book level, per
// the exchange's dynamic wire format. The core never needs to know which
// shape arrived. Numeric fields may themselves be either JSON number
// literals or quoted strings.
type rawLevel struct {
	Price float64
	Size  float64
}

// parseNumberToken parses a raw JSON token that may be a bare number
// literal (123.4) or a quoted numeric string ("123.4").
func parseNumberToken(tok json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(tok))
	s = strings.Trim(s, `"`)
	return strconv.ParseFloat(s, 64)
}

func (l *rawLevel) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) < 2 {
			return fmt.Errorf("orderbook: level array too short: %s", data)
		}
		price, err := parseNumberToken(arr[0])
		if err != nil {
			return fmt.Errorf("orderbook: bad price in level %s: %w", data, err)
		}
		size, err := parseNumberToken(arr[1])
		if err != nil {
			return fmt.Errorf("orderbook: bad size in level %s: %w", data, err)
		}
		l.Price, l.Size = price, size
		return nil
	}

	var obj struct {
		Price json.RawMessage `json:"price"`
		Px    json.RawMessage `json:"px"`
		Size  json.RawMessage `json:"size"`
		Sz    json.RawMessage `json:"sz"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("orderbook: unrecognized level shape: %s: %w", data, err)
	}
	priceTok := obj.Price
	if len(priceTok) == 0 {
		priceTok = obj.Px
	}
	sizeTok := obj.Size
	if len(sizeTok) == 0 {
		sizeTok = obj.Sz
	}
	if len(priceTok) == 0 || len(sizeTok) == 0 {
		return fmt.Errorf("orderbook: level object missing price/size: %s", data)
	}
	price, err := parseNumberToken(priceTok)
	if err != nil {
		return fmt.Errorf("orderbook: bad price in level %s: %w", data, err)
	}
	size, err := parseNumberToken(sizeTok)
	if err != nil {
		return fmt.Errorf("orderbook: bad size in level %s: %w", data, err)
	}
	l.Price, l.Size = price, size
	return nil
}

package orderbook

import (
	"encoding/json"
	"time"
)

// subscribeMessage is the outbound subscription frame.
type subscribeMessage struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

func newSubscribeMessage(subType, coin string) subscribeMessage {
	return subscribeMessage{
		Method:       "subscribe",
		Subscription: subscription{Type: subType, Coin: coin},
	}
}

// inboundFrame is the generic envelope every inbound message carries.
type inboundFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// l2BookData is the payload of a channel="l2Book" frame.
type l2BookData struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]rawLevel  `json:"levels"`
}

func (d l2BookData) timestamp() time.Time {
	return time.UnixMilli(d.Time)
}

// tradeData is the payload of a channel="trades" frame: an array of trade
// ticks for one coin.
type tradeData []struct {
	Coin  string      `json:"coin"`
	Px    json.Number `json:"px"`
	Sz    json.Number `json:"sz"`
	Side  string      `json:"side"`
	Time  int64       `json:"time"`
}

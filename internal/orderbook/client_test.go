package orderbook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densityradar/internal/model"
)

func TestHandleL2BookArrayShape(t *testing.T) {
	c := New("wss://example", nil)
	var got []model.OrderBookSnapshot
	c.SubscribeOrderBook("BTC", func(s model.OrderBookSnapshot) { got = append(got, s) })

	payload := `{"channel":"l2Book","data":{"coin":"BTC","time":1000,"levels":[[["50000","60"],["49995","1"]],[["50010","1"],["50015","1"]]]}}`
	c.handleMessage([]byte(payload))

	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].Coin)
	require.Len(t, got[0].Bids, 2)
	assert.Equal(t, 50000.0, got[0].Bids[0].Price)
	assert.Equal(t, 60.0, got[0].Bids[0].Size)
	assert.Equal(t, 50010.0, got[0].Asks[0].Price)
}

func TestHandleL2BookObjectShape(t *testing.T) {
	c := New("wss://example", nil)
	var got []model.OrderBookSnapshot
	c.SubscribeOrderBook("ETH", func(s model.OrderBookSnapshot) { got = append(got, s) })

	payload := `{"channel":"l2Book","data":{"coin":"ETH","time":1000,"levels":[[{"px":"3000","sz":"5"}],[{"price":"3010","size":"2"}]]}}`
	c.handleMessage([]byte(payload))

	require.Len(t, got, 1)
	assert.Equal(t, 3000.0, got[0].Bids[0].Price)
	assert.Equal(t, 3010.0, got[0].Asks[0].Price)
}

func TestHandleMessageMalformedIsDroppedNotFatal(t *testing.T) {
	c := New("wss://example", nil)
	assert.NotPanics(t, func() {
		c.handleMessage([]byte(`{not valid json`))
	})
	assert.Equal(t, Disconnected, c.State())
}

func TestHandleTradesDispatchesBySide(t *testing.T) {
	c := New("wss://example", nil)
	var got []model.Trade
	c.SubscribeTrades("BTC", func(tr model.Trade) { got = append(got, tr) })

	payload := `{"channel":"trades","data":[{"coin":"BTC","px":"50000","sz":"0.5","side":"bid","time":1000}]}`
	c.handleMessage([]byte(payload))

	require.Len(t, got, 1)
	assert.Equal(t, model.SideBid, got[0].Side)
	assert.InDelta(t, 0.5, got[0].Size, 1e-9)
}

func TestSubscriptionOrderReplaysEachOnce(t *testing.T) {
	c := New("wss://example", nil)
	c.SubscribeOrderBook("BTC", func(model.OrderBookSnapshot) {})
	c.SubscribeOrderBook("ETH", func(model.OrderBookSnapshot) {})

	c.mu.Lock()
	subs := append([]subscriptionEntry(nil), c.subsOrder...)
	c.mu.Unlock()

	require.Len(t, subs, 2)
	assert.Equal(t, "BTC", subs[0].coin)
	assert.Equal(t, "ETH", subs[1].coin)
}

func TestNewSubscribeMessageShape(t *testing.T) {
	msg := newSubscribeMessage("l2Book", "BTC")
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"subscribe","subscription":{"type":"l2Book","coin":"BTC"}}`, string(b))
}

package listing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) NotifyListing(coin string) {
	f.notified = append(f.notified, coin)
}

func testServer(t *testing.T, coins []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := metaResponse{}
		for _, c := range coins {
			resp.Universe = append(resp.Universe, universeEntry{Name: c})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestPollColdStartPopulatesKnownWithoutNotifying(t *testing.T) {
	srv := testServer(t, []string{"BTC", "ETH"})
	defer srv.Close()

	dir := t.TempDir()
	notifier := &fakeNotifier{}
	w := New(srv.URL, filepath.Join(dir, "state.json"), time.Minute, notifier, nil)

	w.poll(context.Background())

	assert.Empty(t, notifier.notified)
	assert.Len(t, w.known, 2)
}

func TestPollNotifiesOnNewListingAfterColdStart(t *testing.T) {
	srv := testServer(t, []string{"BTC"})
	defer srv.Close()

	dir := t.TempDir()
	notifier := &fakeNotifier{}
	w := New(srv.URL, filepath.Join(dir, "state.json"), time.Minute, notifier, nil)
	w.poll(context.Background())
	require.Empty(t, notifier.notified)

	srv.Close()
	srv = testServer(t, []string{"BTC", "SOL"})
	defer srv.Close()
	w.infoURL = srv.URL

	w.poll(context.Background())

	assert.Equal(t, []string{"SOL"}, notifier.notified)
	assert.Len(t, w.known, 2)
}

func TestPollPersistsStateToDisk(t *testing.T) {
	srv := testServer(t, []string{"BTC"})
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	w := New(srv.URL, path, time.Minute, nil, nil)
	w.poll(context.Background())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var state persistedState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Contains(t, state.KnownCoins, "BTC")
}

func TestNewLoadsPriorStateFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	seed := persistedState{KnownCoins: []string{"BTC", "ETH"}, NotifiedCoins: []string{"ETH"}}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w := New("http://unused", path, time.Minute, nil, nil)
	assert.Len(t, w.known, 2)
	assert.Len(t, w.notified, 1)
}

func TestNewWithAbsentFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	w := New("http://unused", filepath.Join(dir, "missing.json"), time.Minute, nil, nil)
	assert.Empty(t, w.known)
}

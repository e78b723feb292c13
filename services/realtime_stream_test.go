package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachTestClient(t *testing.T, s *RealtimeStream, tickers ...string) *StreamClient {
	t.Helper()
	client := &StreamClient{
		send:       make(chan []byte, streamSendBuffer),
		subscribed: make(map[string]bool),
	}
	for _, ticker := range tickers {
		client.subscribed[ticker] = true
	}
	select {
	case s.register <- client:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept the client")
	}
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, time.Millisecond)
	return client
}

func receiveStreamMessage(t *testing.T, client *StreamClient) StreamMessage {
	t.Helper()
	select {
	case raw := <-client.send:
		var msg StreamMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return StreamMessage{}
	}
}

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	s := NewRealtimeStream()
	client := attachTestClient(t, s)
	defer s.detach(client)

	s.BroadcastMarketData([]MarketDataRecord{
		{Ticker: "AAPL", Price: FloatPtr(231.5)},
		{Ticker: "XOM", Price: FloatPtr(112.0)},
	})

	msg := receiveStreamMessage(t, client)
	assert.Equal(t, "market_data", msg.Type)
	records, ok := msg.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, records, 2, "client with no subscriptions receives everything")
}

func TestBroadcastFiltersBySubscription(t *testing.T) {
	s := NewRealtimeStream()
	client := attachTestClient(t, s, "XOM")
	defer s.detach(client)

	s.BroadcastMarketData([]MarketDataRecord{
		{Ticker: "AAPL", Price: FloatPtr(231.5)},
		{Ticker: "XOM", Price: FloatPtr(112.0)},
	})

	msg := receiveStreamMessage(t, client)
	records, ok := msg.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, records, 1)
	row, ok := records[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "XOM", row["ticker"])

	// Nothing else queued: a broadcast with no subscribed tickers is skipped
	// entirely for this client.
	s.BroadcastMarketData([]MarketDataRecord{{Ticker: "NVDA"}})
	select {
	case <-client.send:
		t.Fatal("unsubscribed ticker delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDetachAfterShutdownDoesNotBlock(t *testing.T) {
	s := NewRealtimeStream()
	s.Shutdown()

	client := &StreamClient{
		send:       make(chan []byte, 1),
		subscribed: make(map[string]bool),
	}

	done := make(chan struct{})
	go func() {
		s.detach(client)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detach blocked after shutdown")
	}
}

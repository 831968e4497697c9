package feed

import (
	"testing"
	"time"
)

func TestParseTradeTick(t *testing.T) {
	now := time.Now()
	msg := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"50123.45","q":"0.01"}}`)
	tick, ok := parseTradeTick(msg, now)
	if !ok {
		t.Fatalf("parse failed")
	}
	if tick.Symbol != "BTCUSDT" {
		t.Fatalf("symbol=%s", tick.Symbol)
	}
	if tick.Price.String() != "50123.45" {
		t.Fatalf("price=%s", tick.Price.String())
	}
}

func TestParseTradeTick_Rejects(t *testing.T) {
	now := time.Now()
	cases := []string{
		`not json`,
		`{"stream":"x","data":{}}`,
		`{"stream":"x","data":{"s":"BTCUSDT","p":"0"}}`,
		`{"stream":"x","data":{"s":"BTCUSDT","p":"-5"}}`,
		`{"stream":"x","data":{"s":"BTCUSDT","p":"abc"}}`,
	}
	for i, raw := range cases {
		if _, ok := parseTradeTick([]byte(raw), now); ok {
			t.Fatalf("case %d parsed unexpectedly", i)
		}
	}
}

func TestWSSource_StreamURL(t *testing.T) {
	w := &WSSource{URL: "wss://stream.binance.com:9443/stream", Symbols: []string{"BTCUSDT", "ETHUSDT"}}
	url, err := w.streamURL()
	if err != nil {
		t.Fatalf("streamURL: %v", err)
	}
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade"
	if url != want {
		t.Fatalf("url=%s want=%s", url, want)
	}

	w = &WSSource{URL: "", Symbols: []string{"BTCUSDT"}}
	if _, err := w.streamURL(); err == nil {
		t.Fatalf("want error for missing url")
	}
	w = &WSSource{URL: "wss://x", Symbols: nil}
	if _, err := w.streamURL(); err == nil {
		t.Fatalf("want error for no symbols")
	}
}

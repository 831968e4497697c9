package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WSSource streams trade ticks over the Binance combined websocket stream.
// Lower latency than RestPoller; the two can run side by side, duplicate
// ticks are harmless to the engine.
type WSSource struct {
	Logger *zap.Logger

	URL     string
	Symbols []string

	mu        sync.Mutex
	cancel    context.CancelFunc
	conn      *websocket.Conn
	lastTick  *time.Time
	lastError *string
	status    string
}

func (w *WSSource) Name() string { return "binance_ws" }

// streamURL builds the combined-stream URL, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade
func (w *WSSource) streamURL() (string, error) {
	base := strings.TrimSpace(w.URL)
	if base == "" {
		return "", fmt.Errorf("missing websocket url")
	}
	if len(w.Symbols) == 0 {
		return "", fmt.Errorf("no symbols configured")
	}
	streams := make([]string, 0, len(w.Symbols))
	for _, s := range w.Symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	return base + "?streams=" + strings.Join(streams, "/"), nil
}

func (w *WSSource) Start(ctx context.Context, out chan<- Tick) error {
	url, err := w.streamURL()
	if err != nil {
		w.setHealth(time.Now().UTC(), "down", strPtr(err.Error()))
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		w.setHealth(time.Now().UTC(), "down", strPtr(err.Error()))
		return err
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		_, msg, err := conn.Read(ctx)
		now := time.Now().UTC()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.setHealth(now, "down", strPtr(err.Error()))
			return err
		}

		tick, ok := parseTradeTick(msg, now)
		if !ok {
			continue
		}
		w.setHealth(now, "healthy", nil)
		select {
		case out <- tick:
		default:
		}
	}
}

func (w *WSSource) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	conn := w.conn
	w.cancel = nil
	w.conn = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "stop")
	}
	return nil
}

func (w *WSSource) Health() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := w.status
	if status == "" {
		status = "unknown"
	}
	return HealthStatus{Status: status, LastTickAt: w.lastTick, LastError: w.lastError}
}

func (w *WSSource) setHealth(ts time.Time, status string, errStr *string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastTick = &ts
	w.status = status
	w.lastError = errStr
}

// parseTradeTick decodes a combined-stream trade message.
func parseTradeTick(msg []byte, now time.Time) (Tick, bool) {
	var envelope struct {
		Stream string `json:"stream"`
		Data   struct {
			Symbol string `json:"s"`
			Price  string `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return Tick{}, false
	}
	if envelope.Data.Symbol == "" || envelope.Data.Price == "" {
		return Tick{}, false
	}
	price, err := decimal.NewFromString(envelope.Data.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return Tick{}, false
	}
	return Tick{Symbol: envelope.Data.Symbol, Price: price, At: now}, true
}

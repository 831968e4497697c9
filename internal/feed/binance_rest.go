package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RestPoller polls the Binance REST ticker endpoint for a set of symbols.
// No API key required.
type RestPoller struct {
	HTTP   *http.Client
	Logger *zap.Logger

	Endpoint     string
	Symbols      []string
	PollInterval time.Duration

	mu        sync.Mutex
	lastTick  *time.Time
	lastError *string
	status    string
}

const defaultRestEndpoint = "https://api.binance.com/api/v3/ticker/price"

func (p *RestPoller) Name() string { return "binance_rest" }

func (p *RestPoller) Start(ctx context.Context, out chan<- Tick) error {
	if p.HTTP == nil {
		p.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	p.pollOnce(ctx, out)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.pollOnce(ctx, out)
		}
	}
}

func (p *RestPoller) Stop() error { return nil }

func (p *RestPoller) Health() HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.status
	if status == "" {
		status = "unknown"
	}
	return HealthStatus{Status: status, LastTickAt: p.lastTick, LastError: p.lastError}
}

func (p *RestPoller) pollOnce(ctx context.Context, out chan<- Tick) {
	now := time.Now().UTC()
	for _, symbol := range p.Symbols {
		price, err := p.fetchPrice(ctx, symbol)
		if err != nil {
			p.setHealth(now, "down", strPtr(err.Error()))
			if p.Logger != nil {
				p.Logger.Warn("price poll failed",
					zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}
		p.setHealth(now, "healthy", nil)
		select {
		case out <- Tick{Symbol: symbol, Price: price, At: now}:
		default:
			// Consumer is behind; the next poll supersedes this tick anyway.
		}
	}
}

func (p *RestPoller) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := strings.TrimSpace(p.Endpoint)
	if endpoint == "" {
		endpoint = defaultRestEndpoint
	}
	url := fmt.Sprintf("%s?symbol=%s", endpoint, symbol)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(parsed.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("invalid price %q", parsed.Price)
	}
	return price, nil
}

func (p *RestPoller) setHealth(ts time.Time, status string, errStr *string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTick = &ts
	p.status = status
	p.lastError = errStr
}

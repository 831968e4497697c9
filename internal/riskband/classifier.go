// Package riskband scores the near-term risk of a symbol in [0,1]. The score
// seeds the initial leverage choice; it is advisory and never consulted again
// after a position opens.
package riskband

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Risk bands, aligned with the leverage tiers the score maps to.
const (
	BandLow      = "low"
	BandModerate = "moderate"
	BandHigh     = "high"
	BandExtreme  = "extreme"
)

// Assessment is the risk verdict for a symbol.
type Assessment struct {
	RiskValue decimal.Decimal `json:"risk_value"`
	RiskBand  string          `json:"risk_band"`
}

// Classifier scores a symbol's current risk.
type Classifier interface {
	Classify(symbol string) (Assessment, error)
}

// BandFor maps a score in [0,1] to its band. Thresholds mirror the leverage
// mapping boundaries.
func BandFor(risk decimal.Decimal) string {
	switch {
	case risk.GreaterThanOrEqual(decimal.NewFromFloat(0.8)):
		return BandExtreme
	case risk.GreaterThanOrEqual(decimal.NewFromFloat(0.6)):
		return BandHigh
	case risk.GreaterThanOrEqual(decimal.NewFromFloat(0.4)):
		return BandModerate
	default:
		return BandLow
	}
}

type sample struct {
	at    time.Time
	price float64
}

// VolClassifier scores risk from the realized volatility of recent prices.
// It must be fed with Observe as ticks arrive; Classify fails until enough
// samples cover the window.
type VolClassifier struct {
	// Window is the lookback over which returns are measured.
	Window time.Duration
	// FullRiskPct is the stdev of returns (in percent) that maps to risk 1.0.
	FullRiskPct float64
	// MinSamples below which Classify refuses to score.
	MinSamples int

	mu      sync.Mutex
	samples map[string][]sample
}

func NewVolClassifier(window time.Duration, fullRiskPct float64) *VolClassifier {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if fullRiskPct <= 0 {
		fullRiskPct = 2.0
	}
	return &VolClassifier{
		Window:      window,
		FullRiskPct: fullRiskPct,
		MinSamples:  10,
		samples:     map[string][]sample{},
	}
}

// Observe records one price observation.
func (c *VolClassifier) Observe(symbol string, price decimal.Decimal, at time.Time) {
	p, _ := price.Float64()
	if p <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	series := append(c.samples[symbol], sample{at: at, price: p})
	cut := at.Add(-c.Window)
	i := 0
	for ; i < len(series); i++ {
		if series[i].at.After(cut) {
			break
		}
	}
	c.samples[symbol] = series[i:]
}

func (c *VolClassifier) Classify(symbol string) (Assessment, error) {
	c.mu.Lock()
	series := append([]sample(nil), c.samples[symbol]...)
	c.mu.Unlock()

	if len(series) < c.MinSamples {
		return Assessment{}, fmt.Errorf("not enough samples for %s: have %d, need %d",
			symbol, len(series), c.MinSamples)
	}

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1].price
		returns = append(returns, (series[i].price-prev)/prev*100)
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)

	risk := stdev / c.FullRiskPct
	if risk > 1 {
		risk = 1
	}
	value := decimal.NewFromFloat(risk).Round(4)
	return Assessment{RiskValue: value, RiskBand: BandFor(value)}, nil
}

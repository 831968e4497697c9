package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"levtrade/internal/models"
)

// ClusterTracker supplies the liquidity cluster map around a reference price.
// The engine only consumes the two nearest levels on each side; trackers may
// return more.
type ClusterTracker interface {
	Clusters(symbol string, reference decimal.Decimal) (models.ClusterSnapshot, error)
}

// PercentBand places one cluster pair at each fractional distance from the
// reference price.
type PercentBand struct {
	Bands []decimal.Decimal
}

// PercentBandTracker derives clusters from fixed percent bands around the
// reference price. It is the default tracker; exchange order-book trackers
// plug in through the same interface.
type PercentBandTracker struct {
	defaultBands []decimal.Decimal
	perSymbol    map[string][]decimal.Decimal
}

// NewPercentBandTracker builds a tracker with the given default bands and
// optional per-symbol overrides. Bands must be positive and strictly
// increasing.
func NewPercentBandTracker(defaults []decimal.Decimal, perSymbol map[string][]decimal.Decimal) (*PercentBandTracker, error) {
	if err := validateBands(defaults); err != nil {
		return nil, err
	}
	for sym, bands := range perSymbol {
		if err := validateBands(bands); err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym, err)
		}
	}
	return &PercentBandTracker{defaultBands: defaults, perSymbol: perSymbol}, nil
}

// DefaultPercentBandTracker uses ±3% and ±6% bands.
func DefaultPercentBandTracker() *PercentBandTracker {
	t, err := NewPercentBandTracker([]decimal.Decimal{
		decimal.NewFromFloat(0.03),
		decimal.NewFromFloat(0.06),
	}, nil)
	if err != nil {
		panic(err)
	}
	return t
}

func validateBands(bands []decimal.Decimal) error {
	if len(bands) < 2 {
		return fmt.Errorf("%w: need at least two cluster bands", ErrConfig)
	}
	prev := decimal.Zero
	for _, b := range bands {
		if b.LessThanOrEqual(prev) {
			return fmt.Errorf("%w: cluster bands must be positive and increasing", ErrConfig)
		}
		prev = b
	}
	return nil
}

func (t *PercentBandTracker) bandsFor(symbol string) []decimal.Decimal {
	if bands, ok := t.perSymbol[symbol]; ok {
		return bands
	}
	return t.defaultBands
}

// Clusters returns nearest-first levels above and below the reference.
// Levels above a long position are exit targets, levels below are
// accumulation zones.
func (t *PercentBandTracker) Clusters(symbol string, reference decimal.Decimal) (models.ClusterSnapshot, error) {
	if reference.LessThanOrEqual(decimal.Zero) {
		return models.ClusterSnapshot{}, fmt.Errorf("%w: reference price %s", ErrInvalidPrice, reference.String())
	}
	now := time.Now().UTC()
	one := decimal.NewFromInt(1)
	snap := models.ClusterSnapshot{Reference: reference}
	for _, band := range t.bandsFor(symbol) {
		snap.Above = append(snap.Above, models.Cluster{
			PriceLevel:     reference.Mul(one.Add(band)),
			Purpose:        models.ClusterPurposeExit,
			RecalculatedAt: now,
		})
		snap.Below = append(snap.Below, models.Cluster{
			PriceLevel:     reference.Mul(one.Sub(band)),
			Purpose:        models.ClusterPurposeDouble,
			RecalculatedAt: now,
		})
	}
	return snap, nil
}

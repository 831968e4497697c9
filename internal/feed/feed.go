// Package feed supplies price ticks to the lifecycle engine. Sources push
// ticks into a shared channel; a source failing reports through its health
// state and is restarted by the host, it never crashes tick consumers.
package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one price observation for a symbol.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

type HealthStatus struct {
	Status     string
	LastTickAt *time.Time
	LastError  *string
}

// PriceSource produces ticks until its context is cancelled.
type PriceSource interface {
	Name() string
	Start(ctx context.Context, out chan<- Tick) error
	Stop() error
	Health() HealthStatus
}

func strPtr(s string) *string { return &s }

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cluster purposes.
const (
	ClusterPurposeExit   = "exit"
	ClusterPurposeDouble = "double"
)

// Cluster is one trigger level derived from market structure around a
// reference price. Levels above the reference are exit triggers, levels below
// are doubling triggers.
type Cluster struct {
	PriceLevel     decimal.Decimal `json:"price_level"`
	Purpose        string          `json:"purpose"`
	RecalculatedAt time.Time       `json:"recalculated_at"`
}

// ClusterSnapshot is the latest set of trigger levels for a position, stored
// as a JSON column on the position row. Above levels are ordered nearest
// first, Below levels likewise.
type ClusterSnapshot struct {
	Reference decimal.Decimal `json:"reference"`
	Above     []Cluster       `json:"above"`
	Below     []Cluster       `json:"below"`
}

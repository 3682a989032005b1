package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// AssetMeta carries venue identifiers and rounding rules for one symbol.
// It is read-only after load.
type AssetMeta struct {
	Symbol        string
	PerpName      string
	SpotName      string
	PerpAssetID   int
	SpotAssetID   int
	SizeDecimals  int32
	PriceDecimals int32
	// MinSize overrides the size increment as the smallest tradable size.
	MinSize float64
}

// SizeIncrement is the smallest size step, 10^-SizeDecimals.
func (m AssetMeta) SizeIncrement() float64 {
	return math.Pow10(-int(m.SizeDecimals))
}

// MinTradable is the larger of MinSize and the size increment.
func (m AssetMeta) MinTradable() float64 {
	return math.Max(m.MinSize, m.SizeIncrement())
}

// TruncateSize rounds sz down to the size increment.
func (m AssetMeta) TruncateSize(sz float64) float64 {
	if sz <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(sz).Truncate(m.SizeDecimals).Float64()
	return f
}

// SubSize returns a-b rounded to the size increment and floored at zero, so
// fills subtracted from stored sizes do not leave float residue.
func (m AssetMeta) SubSize(a, b float64) float64 {
	d := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(m.SizeDecimals)
	if d.Sign() <= 0 {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// RoundPrice rounds px to the price precision.
func (m AssetMeta) RoundPrice(px float64) float64 {
	f, _ := decimal.NewFromFloat(px).Round(m.PriceDecimals).Float64()
	return f
}

// VenueName returns the order-book name for a leg.
func (m AssetMeta) VenueName(leg Leg) string {
	if leg == LegSpot {
		return m.SpotName
	}
	return m.PerpName
}

// AssetReader looks up metadata by symbol.
type AssetReader interface {
	Meta(symbol string) (AssetMeta, bool)
}

// AssetBook is a fixed map of metadata keyed by symbol.
type AssetBook map[string]AssetMeta

// Meta implements AssetReader.
func (b AssetBook) Meta(symbol string) (AssetMeta, bool) {
	m, ok := b[symbol]
	return m, ok
}

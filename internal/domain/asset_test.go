package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetMetaRounding(t *testing.T) {
	m := AssetMeta{Symbol: "ETH", SizeDecimals: 2, PriceDecimals: 1}

	assert.Equal(t, 99.5, m.TruncateSize(1000/10.05))
	assert.Equal(t, 0.0, m.TruncateSize(0.009))
	assert.Equal(t, 0.0, m.TruncateSize(-1))
	assert.Equal(t, 0.01, m.MinTradable())
	assert.Equal(t, 2010.1, m.RoundPrice(2010.0999))
}

func TestAssetMetaSubSize(t *testing.T) {
	m := AssetMeta{SizeDecimals: 3}

	assert.Equal(t, 0.2, m.SubSize(0.3, 0.1))
	assert.Equal(t, 0.0, m.SubSize(0.1, 0.3))
	assert.Equal(t, 60.0, m.SubSize(100, 40))
}

func TestAssetMetaMinSizeOverride(t *testing.T) {
	m := AssetMeta{SizeDecimals: 4, MinSize: 0.01}
	assert.Equal(t, 0.01, m.MinTradable())
}

func TestMarketStateDerived(t *testing.T) {
	m := MarketState{
		SpotBid: 99, SpotAsk: 101, SpotMid: 100,
		PerpBid: 98, PerpAsk: 100, PerpMid: 99,
		FundingRate:    0.0001,
		FundingHistory: []float64{0.0002, -0.0004},
	}
	assert.True(t, m.HasQuotes())
	assert.InDelta(t, -0.01, m.Basis(), 1e-12)
	assert.InDelta(t, -0.0001, m.MovingAverageFunding(), 1e-12)
	assert.InDelta(t, (101.0-98.0)/101.0, m.EntrySpread(), 1e-12)
	assert.Equal(t, 100.0, m.Mark(LegSpot))
	assert.Equal(t, 99.0, m.Mark(LegPerp))
}

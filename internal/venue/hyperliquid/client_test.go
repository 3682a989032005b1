package hyperliquid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

func TestBuildAssetsPairsPerpWithSpot(t *testing.T) {
	perps := []perpInfo{{name: "BTC", szDecimals: 5}, {name: "ETH", szDecimals: 4}, {name: "HYPE", szDecimals: 2}}
	pairs := []spotPair{
		{name: "@142", index: 142, base: 197, quote: 0},
		{name: "@151", index: 151, base: 221, quote: 0},
		{name: "@107", index: 107, base: 150, quote: 0},
		{name: "@999", index: 999, base: 150, quote: 7},
	}
	tokens := map[int]spotToken{
		197: {name: "UBTC", szDecimals: 5},
		221: {name: "UETH", szDecimals: 4},
		150: {name: "HYPE", szDecimals: 2},
	}

	book, missing := buildAssets([]string{"eth", "HYPE"}, perps, pairs, tokens)
	require.Empty(t, missing)

	eth := book["ETH"]
	assert.Equal(t, "ETH", eth.PerpName)
	assert.Equal(t, "@151", eth.SpotName)
	assert.Equal(t, 1, eth.PerpAssetID)
	assert.Equal(t, 10151, eth.SpotAssetID)
	assert.EqualValues(t, 4, eth.SizeDecimals)
	assert.EqualValues(t, 2, eth.PriceDecimals)

	hype := book["HYPE"]
	assert.Equal(t, "@107", hype.SpotName)
	assert.EqualValues(t, 4, hype.PriceDecimals)
}

func TestBuildAssetsReportsMissing(t *testing.T) {
	perps := []perpInfo{{name: "ETH", szDecimals: 4}}
	_, missing := buildAssets([]string{"ETH", "DOGE"}, perps, nil, map[int]spotToken{})
	assert.Equal(t, []string{"ETH (spot)", "DOGE (perp)"}, missing)
}

func TestRoundSigFigs(t *testing.T) {
	assert.Equal(t, 3456.8, roundSigFigs(3456.789, 5))
	assert.Equal(t, 0.12346, roundSigFigs(0.123456, 5))
	assert.Equal(t, 100.0, roundSigFigs(100, 5))
	assert.Equal(t, 0.0, roundSigFigs(0, 5))
}

func TestNoLiquidityMessage(t *testing.T) {
	assert.True(t, noLiquidity("Order could not immediately match against any resting orders. asset=4"))
	assert.False(t, noLiquidity("Insufficient margin to place order."))
}

func TestOrderRequestCarriesCloid(t *testing.T) {
	meta := domain.AssetMeta{Symbol: "ETH", PerpName: "ETH", SpotName: "@151", SizeDecimals: 4, PriceDecimals: 2}
	req := domain.OrderRequest{
		Symbol:        "ETH",
		Leg:           domain.LegPerp,
		Side:          domain.OrderSideBuy,
		Size:          0.5,
		LimitPrice:    2010.123,
		ReduceOnly:    true,
		ClientOrderID: "0x0123456789abcdef0123456789abcdef",
	}

	order := orderRequest(meta, req)
	assert.Equal(t, "ETH", order.Coin)
	assert.True(t, order.IsBuy)
	assert.True(t, order.ReduceOnly)
	assert.Equal(t, 2010.1, order.Price)
	require.NotNil(t, order.ClientOrderID)
	assert.Equal(t, req.ClientOrderID, *order.ClientOrderID)

	req.ClientOrderID = ""
	assert.Nil(t, orderRequest(meta, req).ClientOrderID)
}

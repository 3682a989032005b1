package hyperliquid

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

const (
	perpMaxDecimals = 6
	spotMaxDecimals = 8
	spotAssetOffset = 10000
	usdcTokenIndex  = 0
)

type perpInfo struct {
	name       string
	szDecimals int
}

type spotPair struct {
	name  string
	index int
	base  int
	quote int
}

type spotToken struct {
	name       string
	szDecimals int
}

// buildAssets pairs each requested symbol's perp with its USDC spot market.
// Bridged spot tokens carry a "U" prefix on the venue (UETH, UBTC), so both
// spellings are accepted. Symbols missing either market are reported.
func buildAssets(symbols []string, perps []perpInfo, pairs []spotPair, tokens map[int]spotToken) (domain.AssetBook, []string) {
	perpIdx := make(map[string]int, len(perps))
	for i, p := range perps {
		perpIdx[p.name] = i
	}
	spotByBase := make(map[string]spotPair)
	for _, sp := range pairs {
		if sp.quote != usdcTokenIndex {
			continue
		}
		tok, ok := tokens[sp.base]
		if !ok {
			continue
		}
		if _, dup := spotByBase[tok.name]; !dup {
			spotByBase[tok.name] = sp
		}
	}

	book := make(domain.AssetBook, len(symbols))
	var missing []string
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		pi, ok := perpIdx[symbol]
		if !ok {
			missing = append(missing, symbol+" (perp)")
			continue
		}
		sp, ok := spotByBase[symbol]
		if !ok {
			sp, ok = spotByBase["U"+symbol]
		}
		if !ok {
			missing = append(missing, symbol+" (spot)")
			continue
		}
		perp := perps[pi]
		spotSz := tokens[sp.base].szDecimals

		sz := min(perp.szDecimals, spotSz)
		px := max(0, min(perpMaxDecimals-perp.szDecimals, spotMaxDecimals-spotSz))
		book[symbol] = domain.AssetMeta{
			Symbol:        symbol,
			PerpName:      perp.name,
			SpotName:      sp.name,
			PerpAssetID:   pi,
			SpotAssetID:   spotAssetOffset + sp.index,
			SizeDecimals:  int32(sz),
			PriceDecimals: int32(px),
		}
	}
	return book, missing
}

// AssetList returns the book's entries in no particular order.
func AssetList(book domain.AssetBook) []domain.AssetMeta {
	out := make([]domain.AssetMeta, 0, len(book))
	for _, m := range book {
		out = append(out, m)
	}
	return out
}

func missingErr(missing []string) error {
	return fmt.Errorf("hyperliquid: markets not listed: %s", strings.Join(missing, ", "))
}

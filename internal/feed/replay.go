package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// ReplayColumns is the required header of a replay CSV.
var ReplayColumns = []string{
	"timestamp", "symbol", "spot_bid", "spot_ask", "perp_bid", "perp_ask", "funding_rate", "open_interest",
}

// ReplayRow is one historical observation of both markets of a symbol.
type ReplayRow struct {
	Time         time.Time
	Symbol       string
	SpotBid      float64
	SpotAsk      float64
	PerpBid      float64
	PerpAsk      float64
	FundingRate  float64
	OpenInterest float64
}

// Events expands the row into the spot, perp and funding events the live
// feed would have produced.
func (r ReplayRow) Events() []domain.MarketEvent {
	return []domain.MarketEvent{
		{Kind: domain.EventSpotBook, Symbol: r.Symbol, Bid: r.SpotBid, Ask: r.SpotAsk, Time: r.Time},
		{Kind: domain.EventPerpBook, Symbol: r.Symbol, Bid: r.PerpBid, Ask: r.PerpAsk, Time: r.Time},
		{Kind: domain.EventFunding, Symbol: r.Symbol, FundingRate: r.FundingRate, OpenInterest: r.OpenInterest, Time: r.Time},
	}
}

// ReadReplay parses a replay CSV. Columns may appear in any order but all of
// ReplayColumns must be present. Rows are returned in time order.
func ReadReplay(r io.Reader) ([]ReplayRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("feed: replay: empty input")
		}
		return nil, fmt.Errorf("feed: replay header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range ReplayColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("feed: replay: missing column %q", col)
		}
	}

	var rows []ReplayRow
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("feed: replay line %d: %w", line, err)
		}
		row, err := parseReplayRecord(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("feed: replay line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	return rows, nil
}

func parseReplayRecord(rec []string, idx map[string]int) (ReplayRow, error) {
	field := func(name string) string { return strings.TrimSpace(rec[idx[name]]) }
	num := func(name string) (float64, error) {
		s := field(name)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	ts, err := parseReplayTime(field("timestamp"))
	if err != nil {
		return ReplayRow{}, err
	}
	row := ReplayRow{Time: ts, Symbol: field("symbol")}
	if row.Symbol == "" {
		return ReplayRow{}, fmt.Errorf("symbol is empty")
	}
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"spot_bid", &row.SpotBid},
		{"spot_ask", &row.SpotAsk},
		{"perp_bid", &row.PerpBid},
		{"perp_ask", &row.PerpAsk},
		{"funding_rate", &row.FundingRate},
		{"open_interest", &row.OpenInterest},
	} {
		if *f.dst, err = num(f.name); err != nil {
			return ReplayRow{}, err
		}
	}
	return row, nil
}

// parseReplayTime accepts RFC 3339 or unix seconds / milliseconds.
func parseReplayTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: not RFC 3339 or unix time", s)
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

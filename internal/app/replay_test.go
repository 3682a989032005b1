package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/config"
	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/feed"
	"github.com/alanyoungcy/basisbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fundingCycleCSV holds six hourly ETH rows: two hours of positive funding
// followed by four negative hours.
func fundingCycleCSV() string {
	var b strings.Builder
	b.WriteString("timestamp,symbol,spot_bid,spot_ask,perp_bid,perp_ask,funding_rate,open_interest\n")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 6; h++ {
		rate := "0.0005"
		if h >= 2 {
			rate = "-0.0001"
		}
		fmt.Fprintf(&b, "%s,ETH,2000,2001,2002,2003,%s,5000000\n", start.Add(time.Duration(h)*time.Hour).Format(time.RFC3339), rate)
	}
	return b.String()
}

func replayConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "replay"
	cfg.Scanner.Symbols = []string{"ETH"}
	return &cfg
}

func TestRunReplay_EntersAndExitsOnFundingReversal(t *testing.T) {
	rows, err := feed.ReadReplay(strings.NewReader(fundingCycleCSV()))
	require.NoError(t, err)

	positions := memory.NewPositionStore()
	audit := memory.NewAuditStore()
	report, err := runReplay(context.Background(), replayConfig(), rows, positions, audit, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 6, report.Rows)
	assert.Equal(t, 6, report.Steps)
	assert.Equal(t, []string{"ETH"}, report.Symbols)
	assert.Equal(t, 1, report.Entries)
	assert.Equal(t, 1, report.Exits)
	assert.Zero(t, report.LegRiskEvents)
	assert.Zero(t, report.OpenAtEnd)
	assert.Positive(t, report.FeesPaid)
	assert.Positive(t, report.FundingReceived)
	assert.GreaterOrEqual(t, report.MaxDrawdown, 0.0)

	pos, err := positions.Get(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.State)

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRunReplay_NoRows(t *testing.T) {
	_, err := runReplay(context.Background(), replayConfig(), nil, memory.NewPositionStore(), memory.NewAuditStore(), testLogger())
	assert.Error(t, err)
}

func TestAppRun_ReplayFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte(fundingCycleCSV()), 0o600))

	cfg := replayConfig()
	cfg.Replay.Path = path
	require.NoError(t, cfg.Validate())
	require.NoError(t, New(cfg, testLogger()).Run(context.Background()))
}

func TestFundingHistorySize(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, 24, fundingHistorySize(&cfg))

	cfg.Guardian.ExitPolicy = "moving_average"
	cfg.Guardian.MAWindow = 48
	assert.Equal(t, 48, fundingHistorySize(&cfg))

	cfg.Guardian.ExitPolicy = "vibes"
	assert.Equal(t, 24, fundingHistorySize(&cfg))
}

func TestReplaySymbolsSortedUnique(t *testing.T) {
	rows := []feed.ReplayRow{{Symbol: "ETH"}, {Symbol: "BTC"}, {Symbol: "ETH"}}
	assert.Equal(t, []string{"BTC", "ETH"}, replaySymbols(rows))
}

func TestEventTally(t *testing.T) {
	tally := newEventTally()
	require.NoError(t, tally.Publish(context.Background(), domain.PositionEventsChannel, []byte(`{"type":"position.opened"}`)))
	assert.Error(t, tally.Publish(context.Background(), domain.PositionEventsChannel, []byte(`nope`)))
	assert.Equal(t, 1, tally.count(domain.PositionEventOpened))
}

package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"marketwatch/internal/apperr"
	"marketwatch/internal/config"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "store.json")
	cfg.Notify.Terminal.Color = false

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestAlertLifecycleThroughSimulation(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	if err := a.AddAlert(ctx, AlertOptions{Symbol: "eth", AssetType: "crypto", Target: "3000", Condition: "above"}); err != nil {
		t.Fatalf("add alert: %v", err)
	}
	if err := a.AddAlert(ctx, AlertOptions{Symbol: "AAPL", AssetType: "stocks", Target: "100", Condition: "below"}); err != nil {
		t.Fatalf("add alert: %v", err)
	}

	out.Reset()
	if err := a.ListAlerts(ctx); err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if !strings.Contains(out.String(), "ETH") || !strings.Contains(out.String(), "AAPL") {
		t.Fatalf("both alerts should be listed:\n%s", out.String())
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, SimulateOptions{Symbol: "ETH", AssetType: "crypto", Price: "3050"}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "Alert ETH!") {
		t.Fatalf("terminal notification expected:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "1 triggered") {
		t.Fatalf("summary should report one trigger:\n%s", out.String())
	}

	out.Reset()
	if err := a.ListHistory(ctx, 0); err != nil {
		t.Fatalf("list history: %v", err)
	}
	if !strings.Contains(out.String(), "ETH") || !strings.Contains(out.String(), "$3050.00") {
		t.Fatalf("history should hold the ETH trigger:\n%s", out.String())
	}

	out.Reset()
	if err := a.ListAlerts(ctx); err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if strings.Contains(out.String(), "ETH") {
		t.Fatalf("triggered alert should leave the active set:\n%s", out.String())
	}

	if err := a.ClearHistory(ctx); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	out.Reset()
	_ = a.ListHistory(ctx, 0)
	if !strings.Contains(out.String(), "no triggered alerts") {
		t.Fatalf("history should be empty:\n%s", out.String())
	}
}

func TestSimulateDryRunLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)
	if err := a.AddAlert(ctx, AlertOptions{Symbol: "BTC", AssetType: "crypto", Target: "50000", Condition: "below"}); err != nil {
		t.Fatalf("add alert: %v", err)
	}
	if err := a.SimulateAlert(ctx, SimulateOptions{Symbol: "BTC", AssetType: "crypto", Price: "40000", DryRun: true}); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	out.Reset()
	_ = a.ListAlerts(ctx)
	if !strings.Contains(out.String(), "BTC") {
		t.Fatalf("dry run must not move the alert:\n%s", out.String())
	}
}

func TestAddAlertRejectsBadInput(t *testing.T) {
	a, _ := newTestApp(t)
	cases := []AlertOptions{
		{Symbol: "ETH", AssetType: "bonds", Target: "1", Condition: "above"},
		{Symbol: "ETH", AssetType: "crypto", Target: "x", Condition: "above"},
		{Symbol: "ETH", AssetType: "crypto", Target: "1", Condition: "near"},
		{Symbol: "", AssetType: "crypto", Target: "1", Condition: "above"},
	}
	for _, c := range cases {
		if err := a.AddAlert(context.Background(), c); !apperr.IsValidation(err) {
			t.Fatalf("%+v should be a validation error, got %v", c, err)
		}
	}
}

func TestWatchlistCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	if err := a.WatchlistAdd(ctx, "aapl", "stocks"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.WatchlistAdd(ctx, "BTC", "crypto"); err != nil {
		t.Fatalf("add: %v", err)
	}
	ok, err := a.WatchlistContains(ctx, "AAPL", "stock")
	if err != nil || !ok {
		t.Fatalf("AAPL should be watched: %v %v", ok, err)
	}
	if err := a.WatchlistRemove(ctx, "AAPL", "stocks"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	out.Reset()
	if err := a.WatchlistList(ctx, false); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out.String(), "AAPL") || !strings.Contains(out.String(), "BTC") {
		t.Fatalf("unexpected watchlist:\n%s", out.String())
	}
}

func TestQuoteWithSuggestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock_batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"AAPL":{"price":200,"change_percent":1.5,"volume":2500000,"name":"Apple"}}`))
	}))
	defer srv.Close()

	a, out := newTestApp(t)
	a.Config.Gateway.BaseURL = srv.URL
	if err := a.Quote(context.Background(), QuoteOptions{AssetType: "stocks", Symbols: []string{"aapl", "MSFT"}, Suggest: "above"}); err != nil {
		t.Fatalf("quote: %v", err)
	}
	text := out.String()
	for _, want := range []string{"$200.00", "+1.50%", "2.50M", "$210.00", "MSFT", "unavailable"} {
		if !strings.Contains(text, want) {
			t.Fatalf("quote output missing %q:\n%s", want, text)
		}
	}
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t)
	for _, sym := range []string{"ETH", "SOL"} {
		if err := a.AddAlert(ctx, AlertOptions{Symbol: sym, AssetType: "crypto", Target: "10", Condition: "above"}); err != nil {
			t.Fatalf("add alert: %v", err)
		}
		if err := a.SimulateAlert(ctx, SimulateOptions{Symbol: sym, AssetType: "crypto", Price: "12"}); err != nil {
			t.Fatalf("simulate: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "out", "history.csv")
	if err := a.Export(ctx, ExportOptions{CSVPath: path}); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "id" {
		t.Fatalf("expected header plus two rows, got %v", rows)
	}

	if err := a.Export(ctx, ExportOptions{}); err == nil {
		t.Fatal("export without an output path should fail")
	}
}

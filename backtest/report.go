package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ReportPaths names the three artifacts a report run produces.
type ReportPaths struct {
	JSON    string
	Equity  string
	Summary string
}

// FormatSummary renders the human-readable metrics block.
func FormatSummary(m Metrics) string {
	return fmt.Sprintf(
		"Total PnL: %.2f\n"+
			"Total Return: %.2f%%\n"+
			"CAGR: %.2f%%\n"+
			"Sharpe (trade-based): %.2f\n"+
			"Max Drawdown: %.2f\n"+
			"Win Rate: %.2f%%\n"+
			"Profit Factor: %.2f\n"+
			"Turnover: %.2f\n"+
			"Fees: %.2f\n"+
			"Trades: %d\n",
		m.TotalPnL,
		m.TotalReturn*100,
		m.CAGR*100,
		m.Sharpe,
		m.MaxDrawdown,
		m.WinRate*100,
		m.ProfitFactor,
		m.Turnover,
		m.Fees,
		m.NumTrades,
	)
}

// SaveReport writes the metrics JSON, the equity curve CSV and a text summary
// under outputDir, named by prefix.
func SaveReport(m Metrics, equity []float64, outputDir, prefix string) (ReportPaths, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return ReportPaths{}, fmt.Errorf("create output dir: %w", err)
	}

	paths := ReportPaths{
		JSON:    filepath.Join(outputDir, prefix+"_report.json"),
		Equity:  filepath.Join(outputDir, prefix+"_equity.csv"),
		Summary: filepath.Join(outputDir, prefix+"_summary.txt"),
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ReportPaths{}, fmt.Errorf("marshal metrics: %w", err)
	}
	if err := os.WriteFile(paths.JSON, raw, 0o644); err != nil {
		return ReportPaths{}, fmt.Errorf("write metrics json: %w", err)
	}

	f, err := os.Create(paths.Equity)
	if err != nil {
		return ReportPaths{}, fmt.Errorf("create equity csv: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"step", "equity"})
	for i, v := range equity {
		_ = w.Write([]string{strconv.Itoa(i + 1), strconv.FormatFloat(v, 'f', -1, 64)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return ReportPaths{}, fmt.Errorf("write equity csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return ReportPaths{}, err
	}

	if err := os.WriteFile(paths.Summary, []byte(FormatSummary(m)), 0o644); err != nil {
		return ReportPaths{}, fmt.Errorf("write summary: %w", err)
	}
	return paths, nil
}

// SaveTradeCSV writes the per-trade ledger used by reporting commands.
func SaveTradeCSV(trades []Trade, outputDir, prefix string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, prefix+"_trades.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trade csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"created_at", "symbol", "side", "size", "price", "fee", "pnl"})
	for _, t := range trades {
		_ = w.Write([]string{
			t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			t.Symbol,
			t.Side,
			strconv.FormatFloat(t.Size, 'f', -1, 64),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Fee, 'f', -1, 64),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write trade csv: %w", err)
	}
	return path, nil
}

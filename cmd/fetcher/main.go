package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stock-analysis-fetcher/internal/store"
	"stock-analysis-fetcher/internal/types"
	"stock-analysis-fetcher/internal/zerodha"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "fetcher",
	Short:         "Fetch Zerodha stock pages and market data endpoints",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.yaml", "config file path")

	fetchCmd.Flags().StringP("symbol", "s", "", "stock symbol, e.g. TCS")
	fetchCmd.Flags().StringP("exchange", "e", "NSE", "exchange: BSE or NSE")
	fetchCmd.Flags().String("format", "json", "output format: json or text")
	fetchCmd.Flags().StringP("output", "o", "", "write output to file instead of stdout")
	fetchCmd.Flags().Bool("raw", false, "print the full report including failed endpoints")
	fetchCmd.Flags().Bool("journal", true, "append a summary line to the daily fetch journal")
	_ = fetchCmd.MarkFlagRequired("symbol")

	endpointsCmd.Flags().StringP("symbol", "s", "", "stock symbol, e.g. TCS")
	endpointsCmd.Flags().StringP("exchange", "e", "NSE", "exchange: BSE or NSE")
	_ = endpointsCmd.MarkFlagRequired("symbol")

	examplesCmd.Flags().StringP("exchange", "e", "", "only list this exchange")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(examplesCmd)
}

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the stock page and all data endpoints for one stock",
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol, exchange, err := stockFlags(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "text" {
			return fmt.Errorf("unsupported format %q: must be json or text", format)
		}
		outPath, _ := cmd.Flags().GetString("output")
		raw, _ := cmd.Flags().GetBool("raw")
		journal, _ := cmd.Flags().GetBool("journal")
		configPath, _ := cmd.Flags().GetString("config")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := initializeSystem(ctx, configPath)
		if err != nil {
			return err
		}
		defer shutdownTracer(context.Background())
		compressOldJournals(ctx)

		start := time.Now()
		report := initializeFetcher(cfg).FetchCompleteStockData(ctx, symbol, exchange)
		if journal {
			recordFetch(ctx, report, time.Since(start))
		}

		var out io.Writer = cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		if format == "text" {
			writeText(out, report)
		} else if err := writeJSON(out, report, raw); err != nil {
			return err
		}

		if !report.Success {
			return fmt.Errorf("no data fetched for %s (%s)", symbol, exchange)
		}
		return nil
	},
}

// stockView is the shape returned to prompt assembly: successful endpoint
// bodies keyed by endpoint.
type stockView struct {
	Success   bool                               `json:"success"`
	Symbol    string                             `json:"symbol"`
	Exchange  string                             `json:"exchange"`
	Timestamp time.Time                          `json:"timestamp"`
	StockPage *types.StockPageResult             `json:"stockPage"`
	APIData   map[string]types.FormattedEndpoint `json:"apiData"`
	Summary   types.ReportSummary                `json:"summary"`
	Error     *types.FetchError                  `json:"error,omitempty"`
}

func writeJSON(w io.Writer, report types.StockReport, raw bool) error {
	var v any = report
	if !raw {
		v = stockView{
			Success:   report.Success,
			Symbol:    report.Symbol,
			Exchange:  report.Exchange,
			Timestamp: report.Timestamp,
			StockPage: report.StockPage,
			APIData:   zerodha.FormatAPIData(report.APIData),
			Summary:   report.Summary(),
			Error:     report.Error,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func writeText(w io.Writer, report types.StockReport) {
	status := "ok"
	if !report.Success {
		status = "no data"
	}
	fmt.Fprintf(w, "%s (%s) at %s: %s\n", report.Symbol, report.Exchange, report.Timestamp.Format(time.RFC3339), status)

	if report.StockPage != nil {
		writeResultLine(w, report.StockPage.FetchResult, fmt.Sprintf("%d chars of text", len(report.StockPage.Body)))
	}
	if report.APIData != nil {
		for _, res := range report.APIData.Results() {
			writeResultLine(w, res, fmt.Sprintf("%d bytes", len(res.Body)))
		}
	}
	if report.Error != nil {
		fmt.Fprintf(w, "error: %s\n", report.Error.Error())
	}
}

func writeResultLine(w io.Writer, res types.FetchResult, detail string) {
	retried := ""
	if res.Retried {
		retried = " (retried)"
	}
	if res.IsSuccess() {
		fmt.Fprintf(w, "  %-18s ok %d%s, %s\n", res.EndpointName, res.StatusCode, retried, detail)
		return
	}
	fmt.Fprintf(w, "  %-18s failed [%s]%s: %s\n", res.EndpointName, res.Error.Kind, retried, res.Error.Error())
}

// --- Endpoints Command ---

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List the URLs that would be fetched for one stock",
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol, exchange, err := stockFlags(cmd)
		if err != nil {
			return err
		}
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := store.LoadConfigOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		site := zerodha.Site{Scheme: cfg.Scheme, Host: cfg.Host}
		out := cmd.OutOrStdout()
		page := zerodha.StockPage(site, symbol, exchange)
		fmt.Fprintf(out, "%-14s %-18s %s\n", page.Key, page.DisplayName, page.URL)
		for _, ep := range zerodha.Endpoints(site, symbol, exchange) {
			fmt.Fprintf(out, "%-14s %-18s %s\n", ep.Key, ep.DisplayName, ep.URL)
		}
		return nil
	},
}

// --- Examples Command ---

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "List example stock symbols per exchange",
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetString("exchange")
		examples := zerodha.Examples()

		exchanges := []types.Exchange{types.ExchangeBSE, types.ExchangeNSE}
		if only != "" {
			e, err := types.ParseExchange(only)
			if err != nil {
				return err
			}
			exchanges = slices.DeleteFunc(exchanges, func(x types.Exchange) bool { return x != e })
		}

		out := cmd.OutOrStdout()
		for _, e := range exchanges {
			fmt.Fprintf(out, "%s:\n", e)
			for _, ex := range examples[e] {
				fmt.Fprintf(out, "  %-12s %s\n", ex.Symbol, ex.Name)
			}
		}
		return nil
	},
}

func stockFlags(cmd *cobra.Command) (string, types.Exchange, error) {
	symbol, _ := cmd.Flags().GetString("symbol")
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(symbol) {
		return "", "", fmt.Errorf("invalid symbol %q", symbol)
	}
	rawExchange, _ := cmd.Flags().GetString("exchange")
	exchange, err := types.ParseExchange(rawExchange)
	if err != nil {
		return "", "", err
	}
	return symbol, exchange, nil
}

package zerodhaobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"stock-analysis-fetcher/internal/interfaces"
	"stock-analysis-fetcher/internal/logger"
	"stock-analysis-fetcher/internal/trace"
	"stock-analysis-fetcher/internal/types"
)

type observableStockFetcher struct {
	fetcher interfaces.StockFetcher
}

var _ interfaces.StockFetcher = (*observableStockFetcher)(nil)

func Wrap(fetcher interfaces.StockFetcher) interfaces.StockFetcher {
	return &observableStockFetcher{
		fetcher: fetcher,
	}
}

func (osf *observableStockFetcher) FetchCompleteStockData(ctx context.Context, symbol string, exchange types.Exchange) types.StockReport {
	ctx, span := trace.StartSpan(ctx, "zerodha.FetchCompleteStockData")
	defer span.End()
	trace.SetAttributes(span,
		attribute.String("symbol", symbol),
		attribute.String("exchange", string(exchange)),
	)

	logger.InfoSkip(ctx, 1, "Starting complete stock fetch",
		"symbol", symbol,
		"exchange", exchange,
	)

	report := osf.fetcher.FetchCompleteStockData(ctx, symbol, exchange)
	summary := report.Summary()
	trace.SetAttributes(span,
		attribute.Bool("success", report.Success),
		attribute.Int("successful_endpoints", summary.TotalEndpoints),
		attribute.Int("failed_endpoints", summary.FailedEndpoints),
		attribute.Bool("has_stock_page", summary.HasStockPage),
	)

	if !report.Success {
		logger.ErrorWithErrSkip(ctx, 1, "Complete stock fetch returned no data", report.Error,
			"symbol", symbol,
			"exchange", exchange,
		)
		return report
	}

	logger.InfoSkip(ctx, 1, "Complete stock fetch finished",
		"symbol", symbol,
		"exchange", exchange,
		"successful_endpoints", summary.TotalEndpoints,
		"failed_endpoints", summary.FailedEndpoints,
		"has_stock_page", summary.HasStockPage,
	)

	return report
}

func (osf *observableStockFetcher) FetchStockPage(ctx context.Context, symbol string, exchange types.Exchange) types.StockPageResult {
	ctx, span := trace.StartSpan(ctx, "zerodha.FetchStockPage")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching stock page",
		"symbol", symbol,
		"exchange", exchange,
	)

	page := osf.fetcher.FetchStockPage(ctx, symbol, exchange)
	if !page.IsSuccess() {
		logger.ErrorWithErrSkip(ctx, 1, "Stock page fetch failed", page.Error,
			"symbol", symbol,
			"exchange", exchange,
		)
		return page
	}

	logger.InfoSkip(ctx, 1, "Stock page fetched",
		"symbol", symbol,
		"exchange", exchange,
		"status", page.StatusCode,
		"text_length", len(page.Body),
		"retried", page.Retried,
	)

	return page
}

func (osf *observableStockFetcher) FetchAllAPIData(ctx context.Context, symbol string, exchange types.Exchange) types.AggregateReport {
	ctx, span := trace.StartSpan(ctx, "zerodha.FetchAllAPIData")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching API data",
		"symbol", symbol,
		"exchange", exchange,
	)

	report := osf.fetcher.FetchAllAPIData(ctx, symbol, exchange)
	trace.SetAttributes(span,
		attribute.Int("successful_endpoints", len(report.Successful)),
		attribute.Int("failed_endpoints", len(report.Failed)),
	)

	for _, res := range report.Failed {
		logger.WarnSkip(ctx, 1, "Endpoint failed",
			"endpoint", res.EndpointKey,
			"kind", res.Error.Kind,
			"status", res.StatusCode,
		)
	}

	logger.InfoSkip(ctx, 1, "API data fetched",
		"symbol", symbol,
		"exchange", exchange,
		"successful", len(report.Successful),
		"failed", len(report.Failed),
	)

	return report
}

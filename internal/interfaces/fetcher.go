package interfaces

import (
	"context"
	"net/http"
	"net/url"

	"stock-analysis-fetcher/internal/api"
	"stock-analysis-fetcher/internal/types"
)

// StockFetcher never returns transport failures as errors; every failure is
// recorded inside the returned report.
type StockFetcher interface {
	FetchCompleteStockData(ctx context.Context, symbol string, exchange types.Exchange) types.StockReport
	FetchStockPage(ctx context.Context, symbol string, exchange types.Exchange) types.StockPageResult
	FetchAllAPIData(ctx context.Context, symbol string, exchange types.Exchange) types.AggregateReport
}

type Transport interface {
	Send(ctx context.Context, rawURL string, header http.Header, query url.Values) (*api.Response, error)
}

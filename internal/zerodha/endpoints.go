package zerodha

import (
	"fmt"
	"maps"

	"stock-analysis-fetcher/internal/types"
)

const (
	KeyStockPage     = "stockPage"
	KeyFinancials    = "financials"
	KeyPeers         = "peers"
	KeyPrice         = "price"
	KeyRevenueMix    = "revenueMix"
	KeyShareholdings = "shareholdings"
)

// Site is the scheme and host every endpoint URL is built on.
type Site struct {
	Scheme string
	Host   string
}

// BaseURL returns the stock landing page URL, which is also the prefix of
// every JSON endpoint.
func (s Site) BaseURL(symbol string, exchange types.Exchange) string {
	return fmt.Sprintf("%s://%s/markets/stocks/%s/%s/", s.Scheme, s.Host, exchange, symbol)
}

func (s Site) commonHeaders() map[string]string {
	return map[string]string{
		"Host":                      s.Host,
		"Accept-Language":           "en-GB,en;q=0.9",
		"Sec-Fetch-Site":            "same-origin",
		"Priority":                  "u=0, i",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Encoding":           "gzip, deflate, br",
		"DNT":                       "1",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-User":            "?1",
		"Sec-Fetch-Dest":            "document",
		"Cache-Control":             "max-age=0",
	}
}

func (s Site) pageHeaders() map[string]string {
	return s.commonHeaders()
}

func (s Site) xhrHeaders() map[string]string {
	h := s.commonHeaders()
	maps.Copy(h, map[string]string{
		"X-Requested-With": "XMLHttpRequest",
		"Accept":           "*/*",
		"Sec-Fetch-Mode":   "cors",
		"Sec-Fetch-Dest":   "empty",
		"Content-Type":     "application/json",
	})
	return h
}

func (s Site) priceHeaders() map[string]string {
	h := s.xhrHeaders()
	h["Priority"] = "u=1, i"
	return h
}

// StockPage describes the HTML landing page for symbol.
func StockPage(site Site, symbol string, exchange types.Exchange) types.EndpointSpec {
	return types.EndpointSpec{
		Key:         KeyStockPage,
		URL:         site.BaseURL(symbol, exchange),
		Headers:     site.pageHeaders(),
		DisplayName: "stock page",
	}
}

// Endpoints returns the JSON endpoints for symbol in fetch order.
func Endpoints(site Site, symbol string, exchange types.Exchange) []types.EndpointSpec {
	base := site.BaseURL(symbol, exchange)
	return []types.EndpointSpec{
		{Key: KeyFinancials, URL: base + "financials/", Headers: site.xhrHeaders(), DisplayName: "financials API"},
		{Key: KeyPeers, URL: base + "peers/", Headers: site.xhrHeaders(), DisplayName: "peers API"},
		{Key: KeyPrice, URL: base + "price/", Headers: site.priceHeaders(), DisplayName: "price API"},
		{Key: KeyRevenueMix, URL: base + "revenue_mix/", Headers: site.xhrHeaders(), DisplayName: "revenue mix API"},
		{Key: KeyShareholdings, URL: base + "shareholdings/", Headers: site.xhrHeaders(), DisplayName: "shareholdings API"},
	}
}

// mustValidate panics on a malformed catalogue. A bad catalogue is a
// programming error, never a runtime condition.
func mustValidate(specs []types.EndpointSpec) {
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if spec.Key == "" || spec.URL == "" {
			panic(fmt.Sprintf("zerodha: endpoint %d has empty key or url", i))
		}
		if seen[spec.Key] {
			panic(fmt.Sprintf("zerodha: duplicate endpoint key %q", spec.Key))
		}
		seen[spec.Key] = true
	}
}

type Example struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Examples lists well-known tickers per exchange.
func Examples() map[types.Exchange][]Example {
	return map[types.Exchange][]Example{
		types.ExchangeBSE: {
			{"RELIANCE", "Reliance Industries"},
			{"TCS", "Tata Consultancy Services"},
			{"INFY", "Infosys Limited"},
			{"HDFCBANK", "HDFC Bank"},
			{"ICICIBANK", "ICICI Bank"},
			{"DEEPAKNTR", "Deepak Nitrite"},
			{"TATAMOTORS", "Tata Motors"},
			{"WIPRO", "Wipro Limited"},
		},
		types.ExchangeNSE: {
			{"RELIANCE", "Reliance Industries"},
			{"TCS", "Tata Consultancy Services"},
			{"INFY", "Infosys Limited"},
			{"HDFCBANK", "HDFC Bank"},
			{"ICICIBANK", "ICICI Bank"},
			{"TATAMOTORS", "Tata Motors"},
			{"WIPRO", "Wipro Limited"},
			{"BHARTIARTL", "Bharti Airtel"},
			{"AIRAN", "Airan Limited"},
		},
	}
}

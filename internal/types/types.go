package types

import (
	"fmt"
	"strings"
	"time"
)

type Exchange string

const (
	ExchangeBSE Exchange = "BSE"
	ExchangeNSE Exchange = "NSE"
)

// ParseExchange accepts BSE or NSE in any case.
func ParseExchange(s string) (Exchange, error) {
	switch e := Exchange(strings.ToUpper(strings.TrimSpace(s))); e {
	case ExchangeBSE, ExchangeNSE:
		return e, nil
	}
	return "", fmt.Errorf("unsupported exchange %q: must be BSE or NSE", s)
}

// Identity is the synthetic browser session presented to the target site.
// Cursor fields are snapshots of the rotator's user-agent/referer positions.
type Identity struct {
	SessionID      string `json:"sessionId"`
	DeviceID       string `json:"deviceId"`
	UserAgentIndex int    `json:"userAgentIndex"`
	RefererIndex   int    `json:"refererIndex"`
}

// EndpointSpec describes one data source fetched per stock.
type EndpointSpec struct {
	Key         string            `json:"key"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	DisplayName string            `json:"name"`
}

type ErrorKind string

const (
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindServer      ErrorKind = "server"
	ErrorKindChallenge   ErrorKind = "challenge"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindNoData      ErrorKind = "no_data"
	ErrorKindInternal    ErrorKind = "internal"
)

const (
	CodeAPIRequestFailed = "API_REQUEST_FAILED"
	CodeChallenge        = "CHALLENGE_DETECTED"
	CodeEndpointError    = "ENDPOINT_ERROR"
	CodeNoDataAvailable  = "NO_DATA_AVAILABLE"
	CodeFetchError       = "FETCH_ERROR"
)

// FetchError is the failure half of a FetchResult.
type FetchError struct {
	Kind       ErrorKind `json:"kind"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	URL        string    `json:"url,omitempty"`
}

func (e *FetchError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

// UsedIdentity records what a single attempt actually presented.
type UsedIdentity struct {
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId"`
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
}

// FetchResult is the terminal outcome of one endpoint fetch.
// Success results carry the response fields; failures carry Error.
type FetchResult struct {
	Success      bool         `json:"success"`
	StatusCode   int          `json:"statusCode,omitempty"`
	ContentType  string       `json:"contentType,omitempty"`
	Body         string       `json:"data,omitempty"`
	URL          string       `json:"url"`
	EndpointName string       `json:"name"`
	EndpointKey  string       `json:"endpointKey,omitempty"`
	Index        int          `json:"index"`
	Symbol       string       `json:"symbol,omitempty"`
	Exchange     string       `json:"exchange,omitempty"`
	Retried      bool         `json:"retried,omitempty"`
	Attempts     int          `json:"attempts"`
	Identity     UsedIdentity `json:"identity"`
	Error        *FetchError  `json:"error,omitempty"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
}

func (r FetchResult) IsSuccess() bool {
	return r.Success && r.Error == nil
}

// StockPageResult is the landing-page fetch with Body replaced by extracted text.
type StockPageResult struct {
	FetchResult
	TextExtracted bool `json:"textExtracted"`
}

// AggregateReport collects the JSON endpoint results in catalogue order.
type AggregateReport struct {
	Symbol     string        `json:"symbol"`
	Exchange   string        `json:"exchange"`
	Timestamp  time.Time     `json:"timestamp"`
	Successful []FetchResult `json:"successful"`
	Failed     []FetchResult `json:"failed"`
}

// Results returns successful and failed results merged back into catalogue order.
func (a AggregateReport) Results() []FetchResult {
	all := make([]FetchResult, 0, len(a.Successful)+len(a.Failed))
	i, j := 0, 0
	for i < len(a.Successful) || j < len(a.Failed) {
		switch {
		case j >= len(a.Failed):
			all = append(all, a.Successful[i])
			i++
		case i >= len(a.Successful):
			all = append(all, a.Failed[j])
			j++
		case a.Successful[i].Index < a.Failed[j].Index:
			all = append(all, a.Successful[i])
			i++
		default:
			all = append(all, a.Failed[j])
			j++
		}
	}
	return all
}

// StockReport is the top-level answer for one (symbol, exchange) request.
type StockReport struct {
	Success   bool             `json:"success"`
	Symbol    string           `json:"symbol"`
	Exchange  string           `json:"exchange"`
	Timestamp time.Time        `json:"timestamp"`
	StockPage *StockPageResult `json:"stockPage"`
	APIData   *AggregateReport `json:"apiData"`
	Error     *FetchError      `json:"error,omitempty"`
}

type ReportSummary struct {
	TotalEndpoints  int  `json:"totalEndpoints"`
	FailedEndpoints int  `json:"failedEndpoints"`
	HasStockPage    bool `json:"hasStockPage"`
}

func (r StockReport) Summary() ReportSummary {
	s := ReportSummary{}
	if r.APIData != nil {
		s.TotalEndpoints = len(r.APIData.Successful)
		s.FailedEndpoints = len(r.APIData.Failed)
	}
	if r.StockPage != nil {
		s.HasStockPage = r.StockPage.IsSuccess()
	}
	return s
}

// FormattedEndpoint is the per-endpoint shape handed to prompt assembly.
type FormattedEndpoint struct {
	Data        any    `json:"data"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

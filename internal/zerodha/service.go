// Package zerodha fetches the public stock page and JSON endpoints of a
// listed company while presenting a rotating browser identity.
package zerodha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stock-analysis-fetcher/internal/api"
	"stock-analysis-fetcher/internal/challenge"
	"stock-analysis-fetcher/internal/extract"
	"stock-analysis-fetcher/internal/identity"
	"stock-analysis-fetcher/internal/interfaces"
	"stock-analysis-fetcher/internal/logger"
	"stock-analysis-fetcher/internal/request"
	"stock-analysis-fetcher/internal/store"
	"stock-analysis-fetcher/internal/types"
)

// Catalogue produces the JSON endpoint list for one stock.
type Catalogue func(site Site, symbol string, exchange types.Exchange) []types.EndpointSpec

// Service owns one rotation state. Concurrent fetches on the same Service
// share it, so a rotation by one attempt affects requests built afterwards.
type Service struct {
	site      Site
	transport interfaces.Transport
	rotator   *identity.Rotator
	builder   *request.Builder
	detector  *challenge.Detector
	limiter   *rate.Limiter
	catalogue Catalogue
	now       func() time.Time
	requests  atomic.Int64
}

var _ interfaces.StockFetcher = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithTransport replaces the HTTP client built from config.
func WithTransport(t interfaces.Transport) Option {
	return func(s *Service) {
		s.transport = t
	}
}

// WithRotator sets the identity rotator.
func WithRotator(r *identity.Rotator) Option {
	return func(s *Service) {
		s.rotator = r
	}
}

// WithBuilder sets the request builder.
func WithBuilder(b *request.Builder) Option {
	return func(s *Service) {
		s.builder = b
	}
}

// WithCatalogue replaces the JSON endpoint list.
func WithCatalogue(c Catalogue) Option {
	return func(s *Service) {
		s.catalogue = c
	}
}

// WithClock sets the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service from cfg. Without WithTransport it sends
// through an api.Client configured from cfg.
func NewService(cfg *store.Config, opts ...Option) *Service {
	s := &Service{
		site:      Site{Scheme: cfg.Scheme, Host: cfg.Host},
		rotator:   identity.NewRotator(cfg.UserAgents, cfg.Referers),
		builder:   request.NewBuilder(),
		detector:  challenge.NewDetector(cfg.ChallengeMarkers...),
		limiter:   newLimiter(cfg.MinRequestInterval()),
		catalogue: Endpoints,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = api.NewClient(
			api.WithTimeout(cfg.Timeout()),
			api.WithMaxRedirects(cfg.MaxRedirects),
			api.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
			api.WithLogging(true),
		)
	}
	return s
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// RequestCount reports how many HTTP responses the service has received.
func (s *Service) RequestCount() int64 {
	return s.requests.Load()
}

// FetchCompleteStockData fetches the stock page and the JSON endpoints
// concurrently and waits for both. The report succeeds when the page or at
// least one endpoint succeeded.
func (s *Service) FetchCompleteStockData(ctx context.Context, symbol string, exchange types.Exchange) types.StockReport {
	report := types.StockReport{
		Symbol:   symbol,
		Exchange: string(exchange),
	}

	if err := ctx.Err(); err != nil {
		report.Timestamp = s.now()
		report.Error = &types.FetchError{
			Kind:    kindOfContextErr(err),
			Code:    types.CodeFetchError,
			Message: "Error fetching stock data",
			Details: err.Error(),
		}
		return report
	}

	specs := s.catalogue(s.site, symbol, exchange)
	mustValidate(specs)

	logger.Info(ctx, "Fetching complete stock data",
		"symbol", symbol,
		"exchange", exchange,
		"endpoints", len(specs)+1)

	var (
		g     errgroup.Group
		page  types.StockPageResult
		batch types.AggregateReport
	)
	// Neither goroutine returns an error, so one side never cancels the other.
	g.Go(func() error {
		timer := logger.StartOperation(ctx, "zerodha.FetchStockPage", "symbol", symbol, "exchange", string(exchange))
		page = s.FetchStockPage(timer.GetContext(), symbol, exchange)
		timer.End("success", page.IsSuccess())
		return nil
	})
	g.Go(func() error {
		timer := logger.StartOperation(ctx, "zerodha.FetchAllAPIData", "symbol", symbol, "exchange", string(exchange))
		batch = s.fetchBatch(timer.GetContext(), symbol, exchange, specs)
		timer.End("successful", len(batch.Successful), "failed", len(batch.Failed))
		return nil
	})
	_ = g.Wait()

	report.Timestamp = s.now()
	report.StockPage = &page
	report.APIData = &batch
	report.Success = page.IsSuccess() || len(batch.Successful) > 0
	if !report.Success {
		report.Error = &types.FetchError{
			Kind:    types.ErrorKindNoData,
			Code:    types.CodeNoDataAvailable,
			Message: "No data could be fetched for this stock",
			Details: "Both stock page and API requests failed",
		}
		logger.Warn(ctx, "No data available", "symbol", symbol, "exchange", exchange)
	}
	return report
}

// FetchStockPage fetches the HTML landing page and replaces the body with
// its visible text on success.
func (s *Service) FetchStockPage(ctx context.Context, symbol string, exchange types.Exchange) types.StockPageResult {
	res := s.fetch(ctx, StockPage(s.site, symbol, exchange), 0)
	res.Symbol = symbol
	res.Exchange = string(exchange)

	page := types.StockPageResult{FetchResult: res}
	if res.IsSuccess() {
		page.Body = extract.Text(res.Body)
		page.TextExtracted = true
	}
	return page
}

// FetchAllAPIData fetches every JSON endpoint one after another. The next
// endpoint starts only after the previous one, retry included, has finished.
func (s *Service) FetchAllAPIData(ctx context.Context, symbol string, exchange types.Exchange) types.AggregateReport {
	specs := s.catalogue(s.site, symbol, exchange)
	mustValidate(specs)
	return s.fetchBatch(ctx, symbol, exchange, specs)
}

func (s *Service) fetchBatch(ctx context.Context, symbol string, exchange types.Exchange, specs []types.EndpointSpec) types.AggregateReport {
	report := types.AggregateReport{
		Symbol:     symbol,
		Exchange:   string(exchange),
		Successful: []types.FetchResult{},
		Failed:     []types.FetchResult{},
	}

	for i, spec := range specs {
		res := s.fetch(ctx, spec, i)
		res.Symbol = symbol
		res.Exchange = string(exchange)
		if res.IsSuccess() {
			report.Successful = append(report.Successful, res)
		} else {
			report.Failed = append(report.Failed, res)
		}
	}

	report.Timestamp = s.now()
	logger.Info(ctx, "API data fetch finished",
		"symbol", symbol,
		"successful", len(report.Successful),
		"failed", len(report.Failed))
	return report
}

type attemptOutcome struct {
	resp       *api.Response
	err        error
	challenged bool
	used       types.UsedIdentity
}

func (o attemptOutcome) status() int {
	if o.resp != nil {
		return o.resp.StatusCode
	}
	return api.StatusCode(o.err)
}

func (o attemptOutcome) rateLimited() bool {
	return !o.challenged && o.status() == 429
}

// fetch runs one endpoint to a terminal result. A 429 rotates the identity
// and retries exactly once; a challenge page rotates the identity and fails
// without retrying.
func (s *Service) fetch(ctx context.Context, spec types.EndpointSpec, index int) (result types.FetchResult) {
	result = types.FetchResult{
		URL:          spec.URL,
		EndpointName: spec.DisplayName,
		EndpointKey:  spec.Key,
		Index:        index,
		StartedAt:    s.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = &types.FetchError{
				Kind:    types.ErrorKindInternal,
				Code:    types.CodeEndpointError,
				Message: "Failed to process " + spec.DisplayName,
				Details: fmt.Sprint(r),
				URL:     spec.URL,
			}
			result.FinishedAt = s.now()
			logger.ErrorWithErr(ctx, "Endpoint processing panicked", fmt.Errorf("%v", r), "endpoint", spec.Key)
		}
	}()

	out := s.attempt(ctx, spec, 1, false)
	result.Attempts = 1

	if out.rateLimited() {
		s.rotate(ctx, "rate_limited")
		out = s.attempt(ctx, spec, 2, true)
		result.Attempts = 2
		result.Retried = true
	}
	if out.challenged {
		s.rotate(ctx, "challenge")
	}

	result.Identity = out.used
	s.settle(&result, spec, out)
	result.FinishedAt = s.now()
	return result
}

func (s *Service) settle(result *types.FetchResult, spec types.EndpointSpec, out attemptOutcome) {
	if out.err != nil {
		result.StatusCode = api.StatusCode(out.err)
		result.Error = &types.FetchError{
			Kind:       api.Classify(out.err),
			Code:       types.CodeAPIRequestFailed,
			Message:    "Failed to fetch data from " + spec.DisplayName,
			Details:    out.err.Error(),
			StatusCode: result.StatusCode,
			URL:        spec.URL,
		}
		return
	}

	result.StatusCode = out.resp.StatusCode
	result.ContentType = out.resp.ContentType
	result.Body = out.resp.String()

	switch {
	case out.challenged:
		result.Error = &types.FetchError{
			Kind:       types.ErrorKindChallenge,
			Code:       types.CodeChallenge,
			Message:    "Challenge page detected for " + spec.DisplayName,
			StatusCode: out.resp.StatusCode,
			URL:        spec.URL,
		}
	case out.rateLimited():
		result.Error = &types.FetchError{
			Kind:       types.ErrorKindRateLimited,
			Code:       types.CodeAPIRequestFailed,
			Message:    "Failed to fetch data from " + spec.DisplayName,
			Details:    "rate limited after retry",
			StatusCode: out.resp.StatusCode,
			URL:        spec.URL,
		}
	default:
		result.Success = true
	}
}

// attempt sends one HTTP request with the next user agent and referer and
// the identity current at build time.
func (s *Service) attempt(ctx context.Context, spec types.EndpointSpec, n int, retry bool) attemptOutcome {
	userAgent := s.rotator.NextUserAgent()
	referer := s.rotator.NextReferer()
	id := s.rotator.Current()

	prepared := s.builder.Build(request.Input{
		URL:         spec.URL,
		BaseHeaders: spec.Headers,
		Identity:    id,
		UserAgent:   userAgent,
		Referer:     referer,
		Retry:       retry,
	})
	out := attemptOutcome{
		used: types.UsedIdentity{
			SessionID: id.SessionID,
			DeviceID:  id.DeviceID,
			UserAgent: userAgent,
			Referer:   referer,
		},
	}

	timer := logger.StartOperation(ctx, "zerodha.attempt",
		"endpoint", spec.Key,
		"attempt", n,
		"browser", prepared.Profile.Family)
	ctx = timer.GetContext()

	if logger.IsDebugEnabled() {
		logger.Debug(ctx, "Browser fingerprint",
			"endpoint", spec.Key,
			"fingerprint", s.builder.Fingerprint(userAgent))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		out.err = pacingError(ctx, spec.URL, err)
		logger.Attempt(ctx, spec.DisplayName, n, 0, "failed")
		timer.EndWithError(out.err)
		return out
	}

	out.resp, out.err = s.transport.Send(ctx, spec.URL, prepared.Header, prepared.Query)

	var count int64
	if out.resp != nil || api.StatusCode(out.err) != 0 {
		count = s.requests.Add(1)
	} else {
		count = s.requests.Load()
	}

	outcome := "succeeded"
	switch {
	case out.err != nil:
		outcome = "failed"
	case s.detector.IsChallengeResponse(out.resp.ContentType, out.resp.String()):
		out.challenged = true
		outcome = "challenge"
	case out.resp.StatusCode == 429:
		outcome = "rate_limited"
	}

	logger.Attempt(ctx, spec.DisplayName, n, out.status(), outcome,
		"request_count", count,
		"browser", prepared.Profile.Family)

	if out.err != nil {
		timer.EndWithError(out.err, "status", out.status())
	} else {
		timer.End("status", out.status(), "outcome", outcome)
	}
	return out
}

func (s *Service) rotate(ctx context.Context, reason string) {
	id := s.rotator.Rotate()
	logger.Rotation(ctx, reason, id.SessionID, "rotations", s.rotator.Rotations())
}

// pacingError reports a request that was never sent because the limiter
// refused to wait. The limiter fails early when the wait would outlast the
// context deadline, without wrapping context.DeadlineExceeded.
func pacingError(ctx context.Context, rawURL string, err error) error {
	err = fmt.Errorf("request pacing: %w", err)
	if errors.Is(ctx.Err(), context.Canceled) {
		return &api.NetworkError{URL: rawURL, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		return &api.TimeoutError{URL: rawURL, Timeout: max(time.Until(deadline), 0).Round(time.Millisecond), Err: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &api.TimeoutError{URL: rawURL, Err: err}
	}
	return &api.NetworkError{URL: rawURL, Err: err}
}

func kindOfContextErr(err error) types.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorKindTimeout
	}
	return types.ErrorKindNetwork
}

// FormatAPIData keys the successful results by endpoint key. Bodies that
// parse as JSON are embedded as JSON; anything else is kept as a string.
func FormatAPIData(report *types.AggregateReport) map[string]types.FormattedEndpoint {
	formatted := make(map[string]types.FormattedEndpoint)
	if report == nil {
		return formatted
	}
	for _, res := range report.Successful {
		var data any = res.Body
		if json.Valid([]byte(res.Body)) {
			data = json.RawMessage(res.Body)
		}
		formatted[res.EndpointKey] = types.FormattedEndpoint{
			Data:        data,
			StatusCode:  res.StatusCode,
			ContentType: res.ContentType,
			URL:         res.URL,
		}
	}
	return formatted
}

package zerodha

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"stock-analysis-fetcher/internal/api"
	"stock-analysis-fetcher/internal/identity"
	"stock-analysis-fetcher/internal/request"
	"stock-analysis-fetcher/internal/store"
	fetchtrace "stock-analysis-fetcher/internal/trace"
	"stock-analysis-fetcher/internal/types"
)

type sentRequest struct {
	url    string
	header http.Header
	query  url.Values
}

// fakeTransport answers by URL path through respond and records every call.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentRequest
	respond func(path string, call int) (*api.Response, error)
}

func (f *fakeTransport) Send(ctx context.Context, rawURL string, header http.Header, query url.Values) (*api.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{url: rawURL, header: header.Clone(), query: query})
	call := 0
	for _, s := range f.sent {
		if s.url == rawURL {
			call++
		}
	}
	f.mu.Unlock()

	u, _ := url.Parse(rawURL)
	return f.respond(u.Path, call)
}

func (f *fakeTransport) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.sent...)
}

func jsonResponse(status int, body string) *api.Response {
	return &api.Response{StatusCode: status, ContentType: "application/json", Body: []byte(body)}
}

func htmlResponse(status int, body string) *api.Response {
	return &api.Response{StatusCode: status, ContentType: "text/html; charset=utf-8", Body: []byte(body)}
}

func isPage(path string) bool {
	return strings.Count(strings.Trim(path, "/"), "/") == 3
}

func testService(t *testing.T, tr *fakeTransport, opts ...Option) (*Service, *identity.Rotator) {
	t.Helper()
	cfg := store.DefaultConfig()
	rot := identity.NewRotator(cfg.UserAgents, cfg.Referers)
	all := append([]Option{
		WithTransport(tr),
		WithRotator(rot),
		WithBuilder(request.NewBuilder(request.WithRand(rand.New(rand.NewPCG(3, 4))))),
	}, opts...)
	return NewService(cfg, all...), rot
}

func TestFetchAllAPIDataPreservesOrder(t *testing.T) {
	for _, n := range []int{0, 1, 3, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			catalogue := func(site Site, symbol string, exchange types.Exchange) []types.EndpointSpec {
				specs := make([]types.EndpointSpec, n)
				for i := range specs {
					specs[i] = types.EndpointSpec{
						Key:         fmt.Sprintf("ep%d", i),
						URL:         fmt.Sprintf("%s%d/", site.BaseURL(symbol, exchange), i),
						DisplayName: fmt.Sprintf("endpoint %d", i),
					}
				}
				return specs
			}
			tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
				// Every other endpoint fails.
				if strings.HasSuffix(path, "1/") || strings.HasSuffix(path, "3/") || strings.HasSuffix(path, "5/") {
					return nil, &api.ServerError{StatusCode: 503}
				}
				return jsonResponse(200, `{"ok":true}`), nil
			}}
			svc, _ := testService(t, tr, WithCatalogue(catalogue))

			report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

			results := report.Results()
			if len(results) != n {
				t.Fatalf("Expected %d results, got %d", n, len(results))
			}
			for i, res := range results {
				if res.EndpointKey != fmt.Sprintf("ep%d", i) {
					t.Errorf("Result %d has key %s", i, res.EndpointKey)
				}
				if res.Symbol != "TCS" || res.Exchange != "NSE" {
					t.Errorf("Result %d missing symbol/exchange: %+v", i, res)
				}
			}
		})
	}
}

func TestFetchAllAPIDataDefaultCatalogue(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		return jsonResponse(200, `{"path":"`+path+`"}`), nil
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchAllAPIData(context.Background(), "INFY", types.ExchangeBSE)

	wantKeys := []string{KeyFinancials, KeyPeers, KeyPrice, KeyRevenueMix, KeyShareholdings}
	if len(report.Successful) != len(wantKeys) {
		t.Fatalf("Expected %d successes, got %d", len(wantKeys), len(report.Successful))
	}
	for i, key := range wantKeys {
		if report.Successful[i].EndpointKey != key {
			t.Errorf("Position %d: expected %s, got %s", i, key, report.Successful[i].EndpointKey)
		}
	}
	if got := report.Successful[3].URL; got != "https://zerodha.com/markets/stocks/BSE/INFY/revenue_mix/" {
		t.Errorf("Unexpected revenue mix URL %s", got)
	}
	if svc.RequestCount() != 5 {
		t.Errorf("Expected 5 requests, got %d", svc.RequestCount())
	}
}

func TestRateLimitedThenSuccess(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		if call == 1 {
			return jsonResponse(429, `{"error":"slow down"}`), nil
		}
		return jsonResponse(200, `{"ok":true}`), nil
	}}
	svc, rot := testService(t, tr, WithCatalogue(singleEndpoint))

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if len(report.Successful) != 1 || len(report.Failed) != 0 {
		t.Fatalf("Expected one success, got %+v", report)
	}
	res := report.Successful[0]
	if !res.Retried || res.Attempts != 2 {
		t.Errorf("Expected retried result with 2 attempts, got retried=%v attempts=%d", res.Retried, res.Attempts)
	}
	if rot.Rotations() != 1 {
		t.Errorf("Expected exactly 1 rotation, got %d", rot.Rotations())
	}

	sent := tr.requests()
	if len(sent) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(sent))
	}
	if sent[0].query.Has("retry") || sent[1].query.Get("retry") != "1" {
		t.Error("Expected retry marker on the second attempt only")
	}
	if sent[0].query.Get("v") == sent[1].query.Get("v") {
		t.Error("Expected fresh cache-busting parameters on retry")
	}
	first, second := sent[0].header.Get("Cookie"), sent[1].header.Get("Cookie")
	if sessionOf(first) == sessionOf(second) {
		t.Errorf("Expected retry to carry a new session: %s vs %s", first, second)
	}
	if res.Identity.SessionID != sessionOf(second) {
		t.Errorf("Expected result identity %s to match retry session %s", res.Identity.SessionID, sessionOf(second))
	}
}

func TestRateLimitedTwice(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		return jsonResponse(429, `{}`), nil
	}}
	svc, rot := testService(t, tr, WithCatalogue(singleEndpoint))

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if len(report.Failed) != 1 || len(report.Successful) != 0 {
		t.Fatalf("Expected one failure, got %+v", report)
	}
	res := report.Failed[0]
	if res.Error.Kind != types.ErrorKindRateLimited || res.StatusCode != 429 {
		t.Errorf("Unexpected failure %+v", res.Error)
	}
	if len(tr.requests()) != 2 || res.Attempts != 2 {
		t.Errorf("Expected no more than 2 attempts, got %d", len(tr.requests()))
	}
	if rot.Rotations() != 1 {
		t.Errorf("Expected 1 rotation, got %d", rot.Rotations())
	}
}

func TestRetryOutcomeIsTerminal(t *testing.T) {
	tests := []struct {
		name      string
		second    func() (*api.Response, error)
		kind      types.ErrorKind
		rotations int
	}{
		{
			name: "challenge",
			second: func() (*api.Response, error) {
				return htmlResponse(200, "<title>Just a moment...</title>"), nil
			},
			kind:      types.ErrorKindChallenge,
			rotations: 2,
		},
		{
			name: "network",
			second: func() (*api.Response, error) {
				return nil, &api.NetworkError{URL: "u", Err: fmt.Errorf("connection reset")}
			},
			kind:      types.ErrorKindNetwork,
			rotations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
				if call == 1 {
					return jsonResponse(429, `{}`), nil
				}
				return tt.second()
			}}
			svc, rot := testService(t, tr, WithCatalogue(singleEndpoint))

			report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

			if len(report.Failed) != 1 {
				t.Fatalf("Expected one failure, got %+v", report)
			}
			res := report.Failed[0]
			if res.Error.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %+v", tt.kind, res.Error)
			}
			if !res.Retried || res.Attempts != 2 {
				t.Errorf("Expected retried result with 2 attempts, got retried=%v attempts=%d", res.Retried, res.Attempts)
			}
			if len(tr.requests()) != 2 {
				t.Errorf("Expected exactly 2 requests, got %d", len(tr.requests()))
			}
			if rot.Rotations() != tt.rotations {
				t.Errorf("Expected %d rotations, got %d", tt.rotations, rot.Rotations())
			}
		})
	}
}

func TestChallengeFailsWithoutRetry(t *testing.T) {
	for _, status := range []int{200, 403, 503} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
				resp := htmlResponse(status, "<html><title>Just a moment...</title></html>")
				if status >= 500 {
					return nil, &api.ServerError{StatusCode: status, Response: resp}
				}
				return resp, nil
			}}
			svc, rot := testService(t, tr, WithCatalogue(singleEndpoint))

			report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

			if len(report.Failed) != 1 {
				t.Fatalf("Expected one failure, got %+v", report)
			}
			res := report.Failed[0]
			if len(tr.requests()) != 1 || res.Retried {
				t.Errorf("Challenge must not be retried, got %d requests", len(tr.requests()))
			}
			if status < 500 {
				if res.Error.Kind != types.ErrorKindChallenge || res.Error.Code != types.CodeChallenge {
					t.Errorf("Expected challenge failure, got %+v", res.Error)
				}
				if rot.Rotations() != 1 {
					t.Errorf("Expected rotation after challenge, got %d", rot.Rotations())
				}
			} else if res.Error.Kind != types.ErrorKindServer {
				t.Errorf("Expected server failure for 5xx, got %+v", res.Error)
			}
		})
	}
}

func TestChallengeRotationAffectsNextEndpoint(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		if strings.HasSuffix(path, "/financials/") {
			return htmlResponse(200, "Checking your browser before accessing"), nil
		}
		return jsonResponse(200, `{}`), nil
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if len(report.Failed) != 1 || len(report.Successful) != 4 {
		t.Fatalf("Expected 1 failure and 4 successes, got %d/%d", len(report.Failed), len(report.Successful))
	}
	sent := tr.requests()
	if sessionOf(sent[0].header.Get("Cookie")) == sessionOf(sent[1].header.Get("Cookie")) {
		t.Error("Expected the endpoint after a challenge to use a new session")
	}
}

func TestJSONBodyWithMarkerIsNotChallenge(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		return jsonResponse(200, `{"note":"Just a moment..."}`), nil
	}}
	svc, rot := testService(t, tr, WithCatalogue(singleEndpoint))

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if len(report.Successful) != 1 {
		t.Fatalf("Expected JSON body to succeed, got %+v", report.Failed)
	}
	if rot.Rotations() != 0 {
		t.Errorf("Expected no rotation, got %d", rot.Rotations())
	}
}

func TestTransportFailuresBecomeResults(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind types.ErrorKind
	}{
		{"timeout", &api.TimeoutError{URL: "u", Timeout: time.Second, Err: context.DeadlineExceeded}, types.ErrorKindTimeout},
		{"network", &api.NetworkError{URL: "u", Err: fmt.Errorf("connection refused")}, types.ErrorKindNetwork},
		{"server", &api.ServerError{URL: "u", StatusCode: 502}, types.ErrorKindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
				return nil, tt.err
			}}
			svc, _ := testService(t, tr, WithCatalogue(singleEndpoint))

			report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

			if len(report.Failed) != 1 {
				t.Fatalf("Expected one failure, got %+v", report)
			}
			res := report.Failed[0]
			if res.Error.Kind != tt.kind || res.Error.Code != types.CodeAPIRequestFailed {
				t.Errorf("Unexpected error %+v", res.Error)
			}
			if res.Error.Message != "Failed to fetch data from only API" {
				t.Errorf("Unexpected message %q", res.Error.Message)
			}
			if len(tr.requests()) != 1 {
				t.Errorf("Expected no retry, got %d requests", len(tr.requests()))
			}
		})
	}
}

func TestPanickingTransportRecordsEndpointError(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		if strings.HasSuffix(path, "/peers/") {
			panic("boom")
		}
		return jsonResponse(200, `{}`), nil
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if len(report.Failed) != 1 || len(report.Successful) != 4 {
		t.Fatalf("Expected 1 failure and 4 successes, got %d/%d", len(report.Failed), len(report.Successful))
	}
	if report.Failed[0].Error.Code != types.CodeEndpointError {
		t.Errorf("Expected ENDPOINT_ERROR, got %+v", report.Failed[0].Error)
	}
}

func TestMalformedCataloguePanics(t *testing.T) {
	catalogue := func(Site, string, types.Exchange) []types.EndpointSpec {
		return []types.EndpointSpec{{Key: "", URL: ""}}
	}
	svc, _ := testService(t, &fakeTransport{}, WithCatalogue(catalogue))

	defer func() {
		if recover() == nil {
			t.Error("Expected panic for malformed catalogue")
		}
	}()
	svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)
}

func TestSequentialEndpointsDoNotOverlap(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		if call == 1 && strings.HasSuffix(path, "/price/") {
			return jsonResponse(429, `{}`), nil
		}
		return jsonResponse(200, `{}`), nil
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if overlap {
		t.Error("JSON endpoints overlapped in time")
	}
	results := report.Results()
	for i := 1; i < len(results); i++ {
		if results[i].StartedAt.Before(results[i-1].FinishedAt) {
			t.Errorf("Endpoint %d started before endpoint %d finished", i, i-1)
		}
	}
}

func TestPageAndBatchRunConcurrently(t *testing.T) {
	batchStarted := make(chan struct{})
	var once sync.Once
	var pageSawBatch bool

	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		if isPage(path) {
			select {
			case <-batchStarted:
				pageSawBatch = true
			case <-time.After(2 * time.Second):
			}
			return htmlResponse(200, "<html><body>TCS</body></html>"), nil
		}
		once.Do(func() { close(batchStarted) })
		return jsonResponse(200, `{}`), nil
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchCompleteStockData(context.Background(), "TCS", types.ExchangeNSE)

	if !pageSawBatch {
		t.Error("Page fetch did not overlap with the JSON batch")
	}
	if !report.Success {
		t.Errorf("Expected success, got %+v", report.Error)
	}
	page := report.StockPage.FetchResult
	first := report.APIData.Results()[0]
	if !first.StartedAt.Before(page.FinishedAt) {
		t.Error("Expected timestamps to show overlap between page and batch")
	}
}

func TestCompleteSuccessWithSingleEndpoint(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		if strings.HasSuffix(path, "/shareholdings/") {
			return jsonResponse(200, `{"promoters":50}`), nil
		}
		return nil, &api.ServerError{StatusCode: 500}
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchCompleteStockData(context.Background(), "TCS", types.ExchangeNSE)

	if !report.Success || report.Error != nil {
		t.Fatalf("Expected partial success, got %+v", report.Error)
	}
	if report.StockPage.IsSuccess() {
		t.Error("Expected page failure")
	}
	summary := report.Summary()
	if summary.TotalEndpoints != 1 || summary.FailedEndpoints != 4 || summary.HasStockPage {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestCompleteFailureWhenEverythingFails(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		return nil, &api.NetworkError{Err: fmt.Errorf("no route to host")}
	}}
	svc, _ := testService(t, tr)

	report := svc.FetchCompleteStockData(context.Background(), "TCS", types.ExchangeNSE)

	if report.Success {
		t.Fatal("Expected failure when all six fetches fail")
	}
	if report.Error == nil || report.Error.Code != types.CodeNoDataAvailable {
		t.Errorf("Expected NO_DATA_AVAILABLE, got %+v", report.Error)
	}
	if len(tr.requests()) != 6 {
		t.Errorf("Expected 6 requests, got %d", len(tr.requests()))
	}
}

func TestCompleteWithCancelledContext(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := testService(t, tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := svc.FetchCompleteStockData(ctx, "TCS", types.ExchangeNSE)

	if report.Success || report.Error == nil || report.Error.Code != types.CodeFetchError {
		t.Errorf("Expected FETCH_ERROR, got %+v", report.Error)
	}
	if len(tr.requests()) != 0 {
		t.Errorf("Expected no requests, got %d", len(tr.requests()))
	}
}

func TestFetchStockPageExtractsText(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		return htmlResponse(200, "<html><script>evil()</script><body>Hello <b>World</b></body></html>"), nil
	}}
	svc, _ := testService(t, tr)

	page := svc.FetchStockPage(context.Background(), "TCS", types.ExchangeNSE)

	if !page.IsSuccess() || !page.TextExtracted {
		t.Fatalf("Expected extracted page, got %+v", page)
	}
	if page.Body != "Hello World" {
		t.Errorf("Expected extracted text, got %q", page.Body)
	}
	if page.EndpointKey != KeyStockPage || page.Symbol != "TCS" {
		t.Errorf("Unexpected page metadata %+v", page.FetchResult)
	}
}

func TestFormatAPIData(t *testing.T) {
	report := &types.AggregateReport{
		Successful: []types.FetchResult{
			{Success: true, EndpointKey: KeyPrice, Body: `{"ltp":3500}`, StatusCode: 200, ContentType: "application/json", URL: "p"},
			{Success: true, EndpointKey: KeyPeers, Body: "not json", StatusCode: 200, ContentType: "text/plain", URL: "q"},
		},
		Failed: []types.FetchResult{{EndpointKey: KeyFinancials}},
	}

	formatted := FormatAPIData(report)

	if len(formatted) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(formatted))
	}
	if _, ok := formatted[KeyFinancials]; ok {
		t.Error("Failed endpoints must not be formatted")
	}
	out, err := json.Marshal(formatted[KeyPrice])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(out), `"data":{"ltp":3500}`) {
		t.Errorf("Expected embedded JSON, got %s", out)
	}
	if formatted[KeyPeers].Data != "not json" {
		t.Errorf("Expected string data, got %v", formatted[KeyPeers].Data)
	}
	if len(FormatAPIData(nil)) != 0 {
		t.Error("Expected empty map for nil report")
	}
}

func TestEndToEndOverHTTP(t *testing.T) {
	var mu sync.Mutex
	hosts := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hosts[r.Host] = true
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/TCS/") {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body><h1>TCS</h1><style>h1{}</style></body></html>")
			return
		}
		if r.URL.Query().Get("_") == "" || r.Header.Get("Cookie") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	cfg := store.DefaultConfig()
	cfg.Scheme = "http"
	cfg.Host = u.Host
	svc := NewService(cfg)

	report := svc.FetchCompleteStockData(context.Background(), "TCS", types.ExchangeNSE)

	if !report.Success {
		t.Fatalf("Expected success, got %+v", report.Error)
	}
	if report.StockPage.Body != "TCS" {
		t.Errorf("Unexpected page text %q", report.StockPage.Body)
	}
	for _, res := range report.APIData.Successful {
		if res.StatusCode != http.StatusOK {
			t.Errorf("%s returned %d", res.EndpointKey, res.StatusCode)
		}
	}
	if len(report.APIData.Successful) != 5 {
		t.Errorf("Expected 5 successes, got %d", len(report.APIData.Successful))
	}
	if len(hosts) != 1 || !hosts[u.Host] {
		t.Errorf("Unexpected Host headers %v", hosts)
	}
}

func singleEndpoint(site Site, symbol string, exchange types.Exchange) []types.EndpointSpec {
	return []types.EndpointSpec{{
		Key:         "only",
		URL:         site.BaseURL(symbol, exchange) + "only/",
		DisplayName: "only API",
	}}
}

func sessionOf(cookie string) string {
	for _, part := range strings.Split(cookie, "; ") {
		if v, ok := strings.CutPrefix(part, "sessionid="); ok {
			return v
		}
	}
	return ""
}

func pacedService(t *testing.T, tr *fakeTransport, interval time.Duration, opts ...Option) *Service {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.MinRequestIntervalMs = int(interval / time.Millisecond)
	all := append([]Option{
		WithTransport(tr),
		WithBuilder(request.NewBuilder(request.WithRand(rand.New(rand.NewPCG(3, 4))))),
	}, opts...)
	return NewService(cfg, all...)
}

func TestMinRequestIntervalSpacesAttempts(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return jsonResponse(200, `{}`), nil
	}}
	interval := 40 * time.Millisecond
	svc := pacedService(t, tr, interval)

	report := svc.FetchAllAPIData(context.Background(), "TCS", types.ExchangeNSE)

	if len(report.Successful) != 5 {
		t.Fatalf("Expected 5 successes, got %d", len(report.Successful))
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(times); i++ {
		// Allow for timer granularity.
		if gap := times[i].Sub(times[i-1]); gap < interval-5*time.Millisecond {
			t.Errorf("Requests %d and %d only %s apart", i-1, i, gap)
		}
	}
}

func TestPacingPastDeadlineIsTimeout(t *testing.T) {
	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		return jsonResponse(200, `{}`), nil
	}}
	svc := pacedService(t, tr, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	report := svc.FetchAllAPIData(ctx, "TCS", types.ExchangeNSE)

	if len(report.Successful) != 2 || len(report.Failed) != 3 {
		t.Fatalf("Expected 2 successes and 3 failures, got %d/%d", len(report.Successful), len(report.Failed))
	}
	for _, res := range report.Failed {
		if res.Error.Kind != types.ErrorKindTimeout || res.Error.Code != types.CodeAPIRequestFailed {
			t.Errorf("%s: expected timeout, got %+v", res.EndpointKey, res.Error)
		}
	}
	if len(tr.requests()) != 2 {
		t.Errorf("Expected paced-out endpoints to send nothing, got %d requests", len(tr.requests()))
	}
	if svc.RequestCount() != 2 {
		t.Errorf("Expected 2 counted requests, got %d", svc.RequestCount())
	}
}

func TestPacingError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if kind := api.Classify(pacingError(cancelled, "u", context.Canceled)); kind != types.ErrorKindNetwork {
		t.Errorf("Cancelled context: expected network, got %s", kind)
	}

	withDeadline, cancel2 := context.WithTimeout(context.Background(), time.Hour)
	defer cancel2()
	err := pacingError(withDeadline, "u", fmt.Errorf("rate: Wait(n=1) would exceed context deadline"))
	if kind := api.Classify(err); kind != types.ErrorKindTimeout {
		t.Errorf("Deadline context: expected timeout, got %s", kind)
	}

	if kind := api.Classify(pacingError(context.Background(), "u", fmt.Errorf("burst"))); kind != types.ErrorKindNetwork {
		t.Errorf("Plain context: expected network, got %s", kind)
	}
}

func TestCompleteFetchOpensChildSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	fetchtrace.Use(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), "test")
	t.Cleanup(func() { fetchtrace.Use(nil, "") })

	tr := &fakeTransport{respond: func(path string, call int) (*api.Response, error) {
		if isPage(path) {
			return htmlResponse(200, "<p>TCS</p>"), nil
		}
		return jsonResponse(200, `{}`), nil
	}}
	svc, _ := testService(t, tr, WithCatalogue(singleEndpoint))

	svc.FetchCompleteStockData(context.Background(), "TCS", types.ExchangeNSE)

	counts := map[string]int{}
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
	}
	if counts["zerodha.FetchStockPage"] != 1 || counts["zerodha.FetchAllAPIData"] != 1 {
		t.Errorf("Expected one page and one batch span, got %v", counts)
	}
	if counts["zerodha.attempt"] != 2 {
		t.Errorf("Expected 2 attempt spans, got %v", counts)
	}
}

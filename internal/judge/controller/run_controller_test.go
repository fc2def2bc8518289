package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codelab/internal/common/http/middleware"
	"codelab/internal/judge/controller"
	"codelab/internal/judge/repository"
	"codelab/internal/judge/sandbox"
	"codelab/internal/judge/sandbox/result"
	"codelab/internal/judge/service"
	appErr "codelab/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type stubRunner struct {
	gate chan struct{}
}

func (s *stubRunner) Validate(req sandbox.RunRequest) error {
	if req.Source == "" {
		return appErr.ValidationError("source", "must not be empty")
	}
	return nil
}

func (s *stubRunner) RunOne(ctx context.Context, req sandbox.RunRequest) (result.RunResult, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
		}
	}
	return result.RunResult{RunID: req.RunID, Verdict: result.VerdictSuccess, Success: true, Output: req.Stdin}, nil
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	TraceID string           `json:"trace_id"`
}

func newRouter(t *testing.T, runner *stubRunner, cfg controller.RouterConfig) (*gin.Engine, *service.RunService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	runs, err := service.NewRunService(service.Config{
		Runner:        runner,
		Store:         repository.NewMemoryResultStore(64, time.Minute),
		MaxConcurrent: 4,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = runs.Shutdown(context.Background()) })
	h := controller.NewRunController(runs, service.NewCompareService(nil, "", 0))
	return controller.NewRouter(h, cfg), runs
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestCreateRunSync(t *testing.T) {
	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{})
	rec, env := do(t, router, http.MethodPost, "/api/v1/runs", controller.RunRequest{Source: "int main(){}", Stdin: "hello"})
	if rec.Code != http.StatusOK || env.Code != appErr.Success {
		t.Fatalf("unexpected response %d %+v", rec.Code, env)
	}
	var res result.RunResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Verdict != result.VerdictSuccess || res.Output != "hello" || res.RunID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if env.TraceID == "" {
		t.Fatalf("expected trace id in envelope")
	}

	rec, env = do(t, router, http.MethodGet, "/api/v1/runs/"+res.RunID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get run: %d %+v", rec.Code, env)
	}
}

func TestCreateRunValidation(t *testing.T) {
	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{})
	cases := []struct {
		name   string
		body   any
		status int
		code   appErr.ErrorCode
	}{
		{name: "empty_source", body: controller.RunRequest{}, status: http.StatusBadRequest, code: appErr.ValidationFailed},
		{name: "bad_json", body: "not an object", status: http.StatusBadRequest, code: appErr.InvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do(t, router, http.MethodPost, "/api/v1/runs", tc.body)
			if rec.Code != tc.status || env.Code != tc.code {
				t.Fatalf("got %d/%v, want %d/%v", rec.Code, env.Code, tc.status, tc.code)
			}
		})
	}
}

func TestCreateRunAsyncAndStream(t *testing.T) {
	runner := &stubRunner{gate: make(chan struct{})}
	router, _ := newRouter(t, runner, controller.RouterConfig{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	rec, env := do(t, router, http.MethodPost, "/api/v1/runs", controller.RunRequest{Source: "x", Stdin: "7", Async: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var submitted controller.SubmitResponse
	if err := json.Unmarshal(env.Data, &submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if submitted.Status != "pending" {
		t.Fatalf("status = %s, want pending", submitted.Status)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/runs/" + submitted.RunID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	close(runner.gate)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var record repository.RunRecord
	if err := conn.ReadJSON(&record); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !record.Finished() || record.Result.Output != "7" {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestStreamUnknownRun(t *testing.T) {
	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{})
	rec, env := do(t, router, http.MethodGet, "/api/v1/runs/nope/stream", nil)
	if rec.Code != http.StatusNotFound || env.Code != appErr.RunNotFound {
		t.Fatalf("got %d/%v", rec.Code, env.Code)
	}
}

func TestWebhookRelay(t *testing.T) {
	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{})

	rec, _ := do(t, router, http.MethodPost, "/webhook/output", map[string]string{"runId": "r-1", "output": "42", "verdict": "Success"})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, router, http.MethodPost, "/webhook/output", map[string]string{"runId": "r-2", "output": "x", "verdict": "Accepted"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown verdict: %d", rec.Code)
	}

	rec, env := do(t, router, http.MethodGet, "/results/r-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results: %d", rec.Code)
	}
	var record repository.RunRecord
	if err := json.Unmarshal(env.Data, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Origin != repository.OriginWebhook || record.Result.Output != "42" {
		t.Fatalf("unexpected record %+v", record)
	}

	rec, env = do(t, router, http.MethodGet, "/results/r-404", nil)
	if rec.Code != http.StatusNotFound || env.Code != appErr.RunNotFound {
		t.Fatalf("missing result: %d/%v", rec.Code, env.Code)
	}
}

func TestCompareEndpoint(t *testing.T) {
	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{})

	rec, env := do(t, router, http.MethodPost, "/api/v1/compare", map[string]string{"expected": "a\nb\n", "actual": "a\r\nb"})
	if rec.Code != http.StatusOK {
		t.Fatalf("compare: %d", rec.Code)
	}
	var res result.ComparisonResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Different {
		t.Fatalf("unexpected comparison %+v", res)
	}

	rec, env = do(t, router, http.MethodPost, "/api/v1/compare", map[string]string{"expected_key": "a", "actual_key": "b"})
	if rec.Code != http.StatusServiceUnavailable || env.Code != appErr.ServiceUnavailable {
		t.Fatalf("object compare without storage: %d/%v", rec.Code, env.Code)
	}
	rec, _ = do(t, router, http.MethodPost, "/api/v1/compare", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty compare: %d", rec.Code)
	}
}

func TestRunCreationIsRateLimited(t *testing.T) {
	limited := 0
	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{
		RunLimiter: middleware.NewIPRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}),
		OnLimited:  func() { limited++ },
	})
	body := controller.RunRequest{Source: "x"}
	if rec, _ := do(t, router, http.MethodPost, "/api/v1/runs", body); rec.Code != http.StatusOK {
		t.Fatalf("first run: %d", rec.Code)
	}
	rec, env := do(t, router, http.MethodPost, "/api/v1/runs", body)
	if rec.Code != http.StatusTooManyRequests || env.Code != appErr.TooManyRequests || limited != 1 {
		t.Fatalf("got %d/%v limited=%d", rec.Code, env.Code, limited)
	}
	if rec, _ := do(t, router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz must not be limited: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "codelab_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router, _ := newRouter(t, &stubRunner{}, controller.RouterConfig{Gatherer: reg})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "codelab_test_total 1") {
		t.Fatalf("unexpected metrics output: %d %s", rec.Code, rec.Body.String())
	}
}

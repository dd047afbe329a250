package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/kumbu/internal/llm"
)

type stubProvider struct {
	resp *llm.Response
	err  error
}

func (p *stubProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	return p.resp, p.err
}

func (p *stubProvider) Name() string  { return "openai" }
func (p *stubProvider) Model() string { return "gpt-4o-mini" }

func gatherFamily(t *testing.T, m *MetricsCollector, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, l := range metric.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestInstrumentedProvider_RecordsSuccess(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &stubProvider{resp: &llm.Response{
		Content: "hi",
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	p := NewInstrumentedProvider(inner, metrics, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	family := gatherFamily(t, metrics, "kumbu_llm_requests_total")
	if family == nil {
		t.Fatal("kumbu_llm_requests_total not gathered")
	}
	m := family.GetMetric()[0]
	if labelValue(m, "provider") != "openai" || labelValue(m, "status") != "success" {
		t.Errorf("unexpected labels: %+v", m.GetLabel())
	}
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("counter = %v, want 1", m.GetCounter().GetValue())
	}

	tokens := gatherFamily(t, metrics, "kumbu_llm_tokens_used_total")
	if tokens == nil {
		t.Fatal("kumbu_llm_tokens_used_total not gathered")
	}
	var total float64
	for _, tm := range tokens.GetMetric() {
		total += tm.GetCounter().GetValue()
	}
	if total != 15 {
		t.Errorf("token total = %v, want 15", total)
	}
}

func TestInstrumentedProvider_RecordsError(t *testing.T) {
	metrics := NewMetricsCollector()
	p := NewInstrumentedProvider(&stubProvider{err: errors.New("boom")}, metrics, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected error")
	}

	family := gatherFamily(t, metrics, "kumbu_llm_requests_total")
	if family == nil {
		t.Fatal("kumbu_llm_requests_total not gathered")
	}
	if labelValue(family.GetMetric()[0], "status") != "error" {
		t.Errorf("unexpected labels: %+v", family.GetMetric()[0].GetLabel())
	}
}

func TestInstrumentedProvider_NilMetricsIsSafe(t *testing.T) {
	p := NewInstrumentedProvider(&stubProvider{resp: &llm.Response{Content: "x"}}, nil, nil)
	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if p.Name() != "openai" || p.Model() != "gpt-4o-mini" {
		t.Error("wrapper must delegate Name/Model")
	}
}

func TestHealthChecker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHealthChecker(logger)

	if got := h.CheckHealth().Status; got != "ok" {
		t.Errorf("liveness = %q", got)
	}
	if got := h.CheckReady(context.Background()).Status; got != "ok" {
		t.Errorf("readiness with no checks = %q", got)
	}

	h.AddCheck("db", func(context.Context) error { return nil })
	h.AddCheck("llm", func(context.Context) error { return errors.New("unreachable") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("readiness = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "ok" || status.Checks["llm"].Status != "fail" {
		t.Errorf("unexpected check results: %+v", status.Checks)
	}
}

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || obs != nil {
		t.Errorf("New(nil) = %v, %v", obs, err)
	}
	// Nil receiver accessors must be safe.
	obs.Shutdown(context.Background())
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil {
		t.Error("nil facade must return nil components")
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}

	fam := gatherFamily(t, metrics, "kumbu_http_requests_total")
	if fam == nil || len(fam.GetMetric()) != 1 {
		t.Fatalf("expected one http_requests_total series, got %v", fam)
	}
	m := fam.GetMetric()[0]
	if got := labelValue(m, "status_code"); got != "418" {
		t.Errorf("status_code label = %q, want 418", got)
	}
	if got := labelValue(m, "path"); got != "/v1/chat" {
		t.Errorf("path label = %q, want /v1/chat", got)
	}
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("count = %v, want 1", m.GetCounter().GetValue())
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

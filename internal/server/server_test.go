package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iwvelando/loan-amortization/internal/advisor"
	"github.com/iwvelando/loan-amortization/internal/store"
	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var fixedNow = time.Date(2025, time.April, 10, 8, 0, 0, 0, time.UTC)

const mortgageJSON = `{"principal":100000,"interestRate":5,"termYears":30,"startDate":"2025-01-15"}`

func newTestHandler(opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewHandler(zap.NewNop(), opts)
}

func performJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeSchedule(t *testing.T, rr *httptest.ResponseRecorder) scheduleResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp scheduleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandleScheduleSuccess(t *testing.T) {
	handler := newTestHandler(Options{})

	resp := decodeSchedule(t, performJSON(t, handler, http.MethodPost, "/api/schedule", mortgageJSON))

	if resp.Periods != 360 {
		t.Fatalf("expected 360 periods, got %d", resp.Periods)
	}
	if resp.Summary == nil {
		t.Fatal("expected a summary")
	}
	if math.Abs(resp.Summary.MonthlyPayment-536.82) > 0.01 {
		t.Errorf("monthly payment = %.4f, expected 536.82", resp.Summary.MonthlyPayment)
	}
	if math.Abs(resp.Summary.TotalInterest-93255.78) > 1 {
		t.Errorf("total interest = %.2f, expected about 93255.78", resp.Summary.TotalInterest)
	}
	if resp.Summary.PayoffDate != "2055-01-15" || !resp.Summary.Converged {
		t.Errorf("unexpected payoff: %+v", resp.Summary)
	}
	if resp.Page.Number != 1 || resp.Page.TotalPages != 30 || len(resp.Page.Rows) != 12 {
		t.Errorf("unexpected page: number=%d total=%d rows=%d", resp.Page.Number, resp.Page.TotalPages, len(resp.Page.Rows))
	}
	if len(resp.Chart) != 30 || resp.Chart[29].Balance != 0 {
		t.Errorf("expected 30 yearly chart points ending at zero, got %d", len(resp.Chart))
	}
	if !strings.HasPrefix(resp.CSV, codec.MetadataMarker) {
		t.Errorf("expected CSV with a metadata record, got %q", resp.CSV[:min(40, len(resp.CSV))])
	}
	if resp.Duration == "" {
		t.Error("expected duration in response")
	}
	if resp.Config.StartDate != "2025-01-15" || resp.Config.Principal != 100000 {
		t.Errorf("unexpected echoed config: %+v", resp.Config)
	}
}

func TestHandleSchedulePaging(t *testing.T) {
	handler := newTestHandler(Options{RowsPerPage: 100})

	resp := decodeSchedule(t, performJSON(t, handler, http.MethodPost, "/api/schedule?page=4", mortgageJSON))
	if resp.Page.Number != 4 || resp.Page.TotalPages != 4 || len(resp.Page.Rows) != 60 {
		t.Errorf("unexpected page: number=%d total=%d rows=%d", resp.Page.Number, resp.Page.TotalPages, len(resp.Page.Rows))
	}
	if resp.Page.Rows[0].Month != 301 {
		t.Errorf("first month on page 4 = %d, expected 301", resp.Page.Rows[0].Month)
	}

	resp = decodeSchedule(t, performJSON(t, handler, http.MethodPost, "/api/schedule?page=99", mortgageJSON))
	if resp.Page.Number != 4 {
		t.Errorf("expected out-of-range page to clamp to 4, got %d", resp.Page.Number)
	}

	rr := performJSON(t, handler, http.MethodPost, "/api/schedule?page=two", mortgageJSON)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-numeric page, got %d", rr.Code)
	}
}

func TestHandleScheduleDefaultsStartDate(t *testing.T) {
	handler := newTestHandler(Options{})

	resp := decodeSchedule(t, performJSON(t, handler, http.MethodPost, "/api/schedule",
		`{"principal":12000,"interestRate":0,"termYears":1,"extraPayment":1000,"oneTimePayments":[{"date":"2025-05-01","amount":500}]}`))

	if resp.Config.StartDate != "2025-04-10" {
		t.Errorf("expected start date defaulted to today, got %q", resp.Config.StartDate)
	}
	if len(resp.Config.ModificationPeriods) != 1 || resp.Config.ModificationPeriods[0].StartMonth != 2 {
		t.Errorf("expected the one-time payment in month 2, got %+v", resp.Config.ModificationPeriods)
	}
	if resp.Summary == nil || resp.Summary.Savings == nil || resp.Summary.Savings.MonthsSaved <= 0 {
		t.Errorf("expected savings, got %+v", resp.Summary)
	}
	row := resp.Page.Rows[1]
	if row.Extra != 1500 || row.RegularPayment != 1000 {
		t.Errorf("month 2 extra=%v regular=%v, expected 1500 and 1000", row.Extra, row.RegularPayment)
	}
}

func TestHandleScheduleErrors(t *testing.T) {
	handler := newTestHandler(Options{MaxUploadSize: 512})

	tests := []struct {
		name     string
		method   string
		body     string
		expected int
	}{
		{name: "Wrong method", method: http.MethodGet, body: "", expected: http.StatusMethodNotAllowed},
		{name: "Malformed JSON", method: http.MethodPost, body: `{"principal":`, expected: http.StatusBadRequest},
		{name: "Bad start date", method: http.MethodPost, body: `{"principal":1000,"termYears":1,"startDate":"soon"}`, expected: http.StatusBadRequest},
		{name: "Invalid loan", method: http.MethodPost, body: `{"principal":0,"interestRate":-1,"termYears":1}`, expected: http.StatusUnprocessableEntity},
		{name: "Too large", method: http.MethodPost, body: `{"principal":1000,"termYears":1,"startDate":"` + strings.Repeat("x", 1024) + `"}`, expected: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := performJSON(t, handler, tt.method, "/api/schedule", tt.body)
			if rr.Code != tt.expected {
				t.Fatalf("expected status %d, got %d: %s", tt.expected, rr.Code, rr.Body.String())
			}
		})
	}

	rr := performJSON(t, handler, http.MethodPost, "/api/schedule", `{"principal":0,"interestRate":-1,"termYears":1}`)
	var resp validationErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode validation response: %v", err)
	}
	if len(resp.Errors) != 2 {
		t.Errorf("expected principal and interest rate errors, got %v", resp.Errors)
	}
}

func uploadCSV(t *testing.T, handler http.Handler, content string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "schedule.csv")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form data: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/schedule/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHandleExportImportRoundTrip(t *testing.T) {
	handler := newTestHandler(Options{MaxUploadSize: constants.DefaultMaxUploadSizeBytes})

	body := `{"principal":150000,"interestRate":4.5,"termYears":15,"startDate":"2025-02-01","extraPayment":200,
		"modificationPeriods":[{"startMonth":10,"endMonth":20,"amount":300}]}`
	exported := performJSON(t, handler, http.MethodPost, "/api/schedule/export", body)
	if exported.Code != http.StatusOK {
		t.Fatalf("export failed with %d: %s", exported.Code, exported.Body.String())
	}
	if ct := exported.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := exported.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	direct := decodeSchedule(t, performJSON(t, handler, http.MethodPost, "/api/schedule", body))
	imported := decodeSchedule(t, uploadCSV(t, handler, exported.Body.String()))

	if imported.Periods != direct.Periods {
		t.Fatalf("imported schedule has %d periods, expected %d", imported.Periods, direct.Periods)
	}
	if imported.Summary.TotalInterest != direct.Summary.TotalInterest {
		t.Errorf("imported total interest %.6f differs from %.6f", imported.Summary.TotalInterest, direct.Summary.TotalInterest)
	}
	if len(imported.Config.ModificationPeriods) != 1 || imported.Config.ExtraPayment != 200 {
		t.Errorf("imported config not restored: %+v", imported.Config)
	}
}

func TestHandleImportErrors(t *testing.T) {
	handler := newTestHandler(Options{MaxUploadSize: 1024})

	rr := uploadCSV(t, handler, "month,payment\n1,2\n")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for CSV without metadata, got %d", rr.Code)
	}

	rr = uploadCSV(t, handler, strings.Repeat("x", 4096))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized upload, got %d", rr.Code)
	}

	invalid := `#metadata,"{""version"":1,""principal"":0,""termYears"":1}"` + "\n" + strings.Join(codec.Header, ",") + "\n"
	rr = uploadCSV(t, handler, invalid)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a non-computable snapshot, got %d: %s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/schedule/import", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=none")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing file, got %d", rec.Code)
	}
}

type stubAdvisor struct {
	suggestion advisor.Suggestion
	err        error
	calls      int
}

func (s *stubAdvisor) Suggest(_ context.Context, _ loans.LoanConfiguration) (advisor.Suggestion, error) {
	s.calls++
	return s.suggestion, s.err
}

func TestHandleSuggest(t *testing.T) {
	stub := &stubAdvisor{suggestion: advisor.Suggestion{Text: "pay more", Source: advisor.SourceModel}}
	handler := newTestHandler(Options{Advisor: stub})

	rr := performJSON(t, handler, http.MethodPost, "/api/suggest", mortgageJSON)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var suggestion advisor.Suggestion
	if err := json.Unmarshal(rr.Body.Bytes(), &suggestion); err != nil {
		t.Fatalf("failed to decode suggestion: %v", err)
	}
	if suggestion != stub.suggestion {
		t.Errorf("suggestion = %+v, expected %+v", suggestion, stub.suggestion)
	}

	stub.err = errors.Join(advisor.ErrUpstream, errors.New("timeout"))
	rr = performJSON(t, handler, http.MethodPost, "/api/suggest", mortgageJSON)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for an upstream failure, got %d", rr.Code)
	}

	calls := stub.calls
	rr = performJSON(t, handler, http.MethodPost, "/api/suggest", `{"principal":-1,"termYears":1}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for an invalid loan, got %d", rr.Code)
	}
	if stub.calls != calls {
		t.Error("advisor should not be called for an invalid loan")
	}
}

func TestHandleSuggestDefaultAdvisorFallsBack(t *testing.T) {
	handler := newTestHandler(Options{})

	rr := performJSON(t, handler, http.MethodPost, "/api/suggest", mortgageJSON)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var suggestion advisor.Suggestion
	if err := json.Unmarshal(rr.Body.Bytes(), &suggestion); err != nil {
		t.Fatalf("failed to decode suggestion: %v", err)
	}
	if suggestion.Source != advisor.SourceFallback || !strings.Contains(suggestion.Text, "$536.82") {
		t.Errorf("unexpected fallback suggestion: %+v", suggestion)
	}
}

func TestHandleSuggestRateLimited(t *testing.T) {
	handler := newTestHandler(Options{Advisor: &stubAdvisor{}, SuggestRateLimit: 2})

	for i := 0; i < 2; i++ {
		if rr := performJSON(t, handler, http.MethodPost, "/api/suggest", mortgageJSON); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	rr := performJSON(t, handler, http.MethodPost, "/api/suggest", mortgageJSON)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the limit, got %d", rr.Code)
	}
	if retry := rr.Header().Get("Retry-After"); retry != "30" {
		t.Errorf("Retry-After = %q, expected one token refill of 30 seconds", retry)
	}
}

func TestHandleSavedLifecycle(t *testing.T) {
	memory := store.NewMemoryStore()
	handler := newTestHandler(Options{Store: memory})

	saved := decodeSchedule(t, performJSON(t, handler, http.MethodPut, "/api/saved/my-mortgage", mortgageJSON))
	if saved.Key != "my-mortgage" || saved.SavedAt != "2025-04-10T08:00:00Z" {
		t.Errorf("unexpected save response key=%q savedAt=%q", saved.Key, saved.SavedAt)
	}

	snapshot, err := memory.Load(context.Background(), "my-mortgage")
	if err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	if len(snapshot.Schedule) != 360 {
		t.Errorf("stored schedule has %d periods", len(snapshot.Schedule))
	}

	loaded := decodeSchedule(t, performJSON(t, handler, http.MethodGet, "/api/saved/my-mortgage?page=2", ""))
	if loaded.Periods != 360 || loaded.Page.Number != 2 || loaded.Page.Rows[0].Month != 13 {
		t.Errorf("unexpected loaded response: periods=%d page=%d", loaded.Periods, loaded.Page.Number)
	}
	if loaded.Summary.TotalInterest != saved.Summary.TotalInterest {
		t.Errorf("loaded interest %.6f differs from saved %.6f", loaded.Summary.TotalInterest, saved.Summary.TotalInterest)
	}

	if rr := performJSON(t, handler, http.MethodDelete, "/api/saved/my-mortgage", ""); rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 on delete, got %d", rr.Code)
	}
	if rr := performJSON(t, handler, http.MethodGet, "/api/saved/my-mortgage", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
	if rr := performJSON(t, handler, http.MethodDelete, "/api/saved/my-mortgage", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting a missing key, got %d", rr.Code)
	}
	if rr := performJSON(t, handler, http.MethodPut, "/api/saved/bad%20key", mortgageJSON); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an invalid key, got %d", rr.Code)
	}
	if rr := performJSON(t, handler, http.MethodPost, "/api/saved/my-mortgage", mortgageJSON); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rr.Code)
	}
}

func TestHandleConfigExport(t *testing.T) {
	handler := newTestHandler(Options{})

	payload := map[string]interface{}{
		"output":  map[string]interface{}{"format": "pretty"},
		"zeta":    1,
		"loan":    map[string]interface{}{"principal": 1000, "termYears": 1},
		"logging": map[string]interface{}{"level": "info"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	rr := performJSON(t, handler, http.MethodPost, "/api/editor/export", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	yamlText := resp["configYaml"]

	loanIdx := strings.Index(yamlText, "loan:")
	loggingIdx := strings.Index(yamlText, "logging:")
	outputIdx := strings.Index(yamlText, "output:")
	zetaIdx := strings.Index(yamlText, "zeta:")
	if loanIdx < 0 || !(loanIdx < loggingIdx && loggingIdx < outputIdx && outputIdx < zetaIdx) {
		t.Errorf("unexpected key order:\n%s", yamlText)
	}

	var roundTrip map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlText), &roundTrip); err != nil {
		t.Fatalf("exported YAML does not parse: %v", err)
	}
}

func TestHandleVersion(t *testing.T) {
	handler := NewHandler(nil, Options{Version: " 1.2.3 "})

	rr := performJSON(t, handler, http.MethodGet, "/api/version", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}

	if rr := performJSON(t, NewHandler(nil, Options{}), http.MethodGet, "/api/version", ""); !strings.Contains(rr.Body.String(), `"dev"`) {
		t.Errorf("expected dev version by default, got %s", rr.Body.String())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	current := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	if !limiter.Allow("a") {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow("a") {
		t.Fatal("second request in the window should be rejected")
	}
	if !limiter.Allow("b") {
		t.Fatal("other clients have their own bucket")
	}

	current = current.Add(time.Minute + time.Second)
	if !limiter.Allow("a") {
		t.Fatal("request after the window should be allowed")
	}

	current = current.Add(2 * time.Hour)
	limiter.Allow("c")
	if _, ok := limiter.clients["b"]; ok {
		t.Error("idle clients should be swept")
	}
	if _, ok := limiter.clients["c"]; !ok {
		t.Error("the active client should be kept")
	}
}

func TestRateLimiterRefillsGradually(t *testing.T) {
	limiter := NewRateLimiter(4, time.Minute)
	current := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 4; i++ {
		if !limiter.Allow("a") {
			t.Fatalf("request %d within the burst should be allowed", i+1)
		}
	}
	if limiter.Allow("a") {
		t.Fatal("request beyond the burst should be rejected")
	}

	// One token every 15 seconds.
	current = current.Add(16 * time.Second)
	if !limiter.Allow("a") {
		t.Fatal("one token should have refilled")
	}
	if limiter.Allow("a") {
		t.Fatal("only one token should have refilled")
	}
	if retry := limiter.retryAfter(); retry != "15" {
		t.Errorf("retryAfter() = %q, expected 15", retry)
	}
}

func TestHandleImportWarnsOnEditedRows(t *testing.T) {
	handler := newTestHandler(Options{})
	cfg := loans.LoanConfiguration{Principal: 12000, AnnualInterestRatePercent: 3, TermYears: 1}

	untouched, err := codec.EncodeCSVString(codec.NewSnapshot(cfg, fixedNow))
	if err != nil {
		t.Fatalf("EncodeCSVString failed: %v", err)
	}
	resp := decodeSchedule(t, uploadCSV(t, handler, untouched))
	for _, warning := range resp.Warnings {
		if warning == staleRowsWarning {
			t.Fatalf("unexpected warning for an unedited export: %v", resp.Warnings)
		}
	}

	edited := codec.NewSnapshot(cfg, fixedNow)
	edited.Schedule[3].Payment += 25
	editedCSV, err := codec.EncodeCSVString(edited)
	if err != nil {
		t.Fatalf("EncodeCSVString failed: %v", err)
	}
	resp = decodeSchedule(t, uploadCSV(t, handler, editedCSV))

	found := false
	for _, warning := range resp.Warnings {
		found = found || warning == staleRowsWarning
	}
	if !found {
		t.Errorf("expected a stale rows warning, got %v", resp.Warnings)
	}
	if resp.Page.Rows[3].Payment == edited.Schedule[3].Payment {
		t.Error("expected the recomputed payment rather than the edited one")
	}
}

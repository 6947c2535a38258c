package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/loan-amortization/internal/advisor"
	"github.com/iwvelando/loan-amortization/internal/config"
	"github.com/iwvelando/loan-amortization/internal/store"
	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/datetime"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/output"
	"github.com/iwvelando/loan-amortization/pkg/report"
	"github.com/iwvelando/loan-amortization/pkg/validation"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Suggester produces payment plan suggestions.
type Suggester interface {
	Suggest(ctx context.Context, cfg loans.LoanConfiguration) (advisor.Suggestion, error)
}

// Options configures the API handler. Zero values select defaults: an
// in-memory store and an advisor that only produces local suggestions.
type Options struct {
	MaxUploadSize int64
	Version       string
	Store         store.Store
	Advisor       Suggester
	RowsPerPage   int
	// SuggestRateLimit caps suggestion requests per client per minute; zero disables it.
	SuggestRateLimit int
	// Now is the clock used for default start dates and save timestamps.
	Now func() time.Time
}

type handler struct {
	logger        *zap.Logger
	maxUploadSize int64
	version       string
	store         store.Store
	advisor       Suggester
	rowsPerPage   int
	now           func() time.Time
}

// NewHandler constructs the HTTP handler that serves the amortization API.
func NewHandler(logger *zap.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxUploadSize := opts.MaxUploadSize
	if maxUploadSize <= 0 {
		maxUploadSize = constants.DefaultMaxUploadSizeBytes
	}

	trimmedVersion := strings.TrimSpace(opts.Version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{
		logger:        logger,
		maxUploadSize: maxUploadSize,
		version:       trimmedVersion,
		store:         opts.Store,
		advisor:       opts.Advisor,
		rowsPerPage:   opts.RowsPerPage,
		now:           opts.Now,
	}
	if h.store == nil {
		h.store = store.NewMemoryStore()
	}
	if h.advisor == nil {
		h.advisor = advisor.New(logger, advisor.Config{})
	}
	if h.rowsPerPage <= 0 {
		h.rowsPerPage = constants.DefaultRowsPerPage
	}
	if h.now == nil {
		h.now = time.Now
	}

	mux := http.NewServeMux()

	// Schedule computed from a loan request
	mux.HandleFunc("/api/schedule", h.handleSchedule)

	// Schedule rebuilt from an uploaded CSV snapshot
	mux.HandleFunc("/api/schedule/import", h.handleImport)

	// Schedule as a CSV download
	mux.HandleFunc("/api/schedule/export", h.handleExport)

	var suggest http.Handler = http.HandlerFunc(h.handleSuggest)
	if opts.SuggestRateLimit > 0 {
		suggest = NewRateLimiter(opts.SuggestRateLimit, time.Minute).Middleware(logger, suggest)
	}
	mux.Handle("/api/suggest", suggest)

	// Saved snapshots
	mux.HandleFunc("/api/saved/{key}", h.handleSaved)

	// Config serialization endpoint for editor downloads
	mux.HandleFunc("/api/editor/export", h.handleConfigExport)

	// Version endpoint for UI metadata
	mux.HandleFunc("/api/version", h.handleVersion)

	return mux
}

type scheduleResponse struct {
	Config   config.Loan  `json:"config"`
	Summary  *summaryView `json:"summary,omitempty"`
	Page     pageView     `json:"page"`
	Periods  int          `json:"periods"`
	Chart    []chartPoint `json:"chart"`
	CSV      string       `json:"csv"`
	Warnings []string     `json:"warnings,omitempty"`
	Duration string       `json:"duration"`
	SavedAt  string       `json:"savedAt,omitempty"`
	Key      string       `json:"key,omitempty"`
}

type summaryView struct {
	MonthlyPayment float64      `json:"monthlyPayment"`
	TotalPrincipal float64      `json:"totalPrincipal"`
	TotalInterest  float64      `json:"totalInterest"`
	TotalPayments  float64      `json:"totalPayments"`
	PayoffMonths   int          `json:"payoffMonths"`
	PayoffDate     string       `json:"payoffDate,omitempty"`
	Converged      bool         `json:"converged"`
	Savings        *savingsView `json:"savings,omitempty"`
}

type savingsView struct {
	OriginalTermMonths    int     `json:"originalTermMonths"`
	MonthsSaved           int     `json:"monthsSaved"`
	OriginalTotalInterest float64 `json:"originalTotalInterest"`
	InterestSaved         float64 `json:"interestSaved"`
	OriginalPayoffDate    string  `json:"originalPayoffDate,omitempty"`
}

type pageView struct {
	Number     int          `json:"number"`
	TotalPages int          `json:"totalPages"`
	PerPage    int          `json:"perPage"`
	Rows       []periodView `json:"rows"`
}

type periodView struct {
	Month              int     `json:"month"`
	Payment            float64 `json:"payment"`
	RegularPayment     float64 `json:"regularPayment"`
	Principal          float64 `json:"principal"`
	Interest           float64 `json:"interest"`
	Extra              float64 `json:"extra"`
	RemainingBalance   float64 `json:"remainingBalance"`
	CumulativeInterest float64 `json:"cumulativeInterest"`
}

type chartPoint struct {
	Month   int     `json:"month"`
	Year    int     `json:"year"`
	Balance float64 `json:"balance"`
}

type validationErrorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}

func (h *handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	const op = "server.handleSchedule"
	start := time.Now()

	page, err := pageParam(r)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	cfg, warnings, ok := h.decodeLoan(w, r, op)
	if !ok {
		return
	}

	h.respondSchedule(w, codec.NewSnapshot(cfg, time.Time{}), "", page, warnings, start, op)
}

func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	const op = "server.handleImport"
	start := time.Now()

	page, err := pageParam(r)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds limit of %d bytes", h.maxUploadSize), op)
			return
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload: %v", err), op)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, "missing schedule file", op)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Warn("failed to close uploaded file",
				zap.String("op", op),
				zap.Error(closeErr),
			)
		}
	}()

	snapshot, err := codec.DecodeCSV(file)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to read schedule: %v", err), op)
		return
	}

	if err := validation.ValidateLoan(snapshot.Config); err != nil {
		h.respondValidation(w, err, op)
		return
	}

	rebuilt, warnings := rebuildSnapshot(snapshot)
	h.respondSchedule(w, rebuilt, "", page, warnings, start, op)
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	const op = "server.handleExport"
	cfg, _, ok := h.decodeLoan(w, r, op)
	if !ok {
		return
	}

	csvText, err := output.CsvString(codec.NewSnapshot(cfg, h.now()))
	if err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode schedule: %v", err), op)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="amortization-schedule.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, csvText); err != nil {
		h.logger.Error("failed to write CSV response",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

func (h *handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	const op = "server.handleSuggest"
	cfg, _, ok := h.decodeLoan(w, r, op)
	if !ok {
		return
	}

	suggestion, err := h.advisor.Suggest(r.Context(), cfg)
	switch {
	case errors.Is(err, validation.ErrInvalid):
		h.respondValidation(w, err, op)
		return
	case errors.Is(err, advisor.ErrUpstream):
		h.respondErrorWithOp(w, http.StatusBadGateway, err.Error(), op)
		return
	case err != nil:
		h.respondErrorWithOp(w, http.StatusInternalServerError, err.Error(), op)
		return
	}

	h.logger.Info("suggestion produced",
		zap.String("op", op),
		zap.String("source", suggestion.Source),
	)
	h.writeJSON(w, http.StatusOK, suggestion)
}

func (h *handler) handleSaved(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleSaved"
	start := time.Now()

	key := r.PathValue("key")
	if err := store.ValidateKey(key); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	switch r.Method {
	case http.MethodPut:
		cfg, warnings, ok := h.decodeLoan(w, r, op)
		if !ok {
			return
		}
		snapshot := codec.NewSnapshot(cfg, h.now())
		if err := h.store.Save(r.Context(), key, snapshot); err != nil {
			h.respondStoreError(w, err, op)
			return
		}
		h.respondSchedule(w, snapshot, key, 1, warnings, start, op)

	case http.MethodGet:
		page, err := pageParam(r)
		if err != nil {
			h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
			return
		}
		snapshot, err := h.store.Load(r.Context(), key)
		if err != nil {
			h.respondStoreError(w, err, op)
			return
		}
		rebuilt, warnings := rebuildSnapshot(snapshot)
		h.respondSchedule(w, rebuilt, key, page, warnings, start, op)

	case http.MethodDelete:
		if err := h.store.Delete(r.Context(), key); err != nil {
			h.respondStoreError(w, err, op)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadSize)).Decode(&payload); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode configuration: %v", err), "server.handleConfigExport")
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	yamlBytes, err := marshalOrderedConfigYAML(payload)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to encode configuration: %v", err), "server.handleConfigExport")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"configYaml": string(yamlBytes),
	})
}

// decodeLoan reads a loan request body, converts and validates it. It writes
// the error response itself and reports false when the request was rejected.
func (h *handler) decodeLoan(w http.ResponseWriter, r *http.Request, op string) (loans.LoanConfiguration, []string, bool) {
	var loan config.Loan
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadSize))
	if err := decoder.Decode(&loan); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request exceeds limit of %d bytes", h.maxUploadSize), op)
			return loans.LoanConfiguration{}, nil, false
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode loan: %v", err), op)
		return loans.LoanConfiguration{}, nil, false
	}

	now := h.now()
	cfg, err := loan.ToLoanConfiguration(now)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return loans.LoanConfiguration{}, nil, false
	}

	if err := validation.ValidateLoan(cfg); err != nil {
		h.respondValidation(w, err, op)
		return loans.LoanConfiguration{}, nil, false
	}

	return cfg, validation.Warnings(cfg), true
}

func (h *handler) respondSchedule(w http.ResponseWriter, snapshot codec.Snapshot, key string, pageNumber int, warnings []string, start time.Time, op string) {
	cfg, schedule := snapshot.Config, snapshot.Schedule

	csvText, err := output.CsvString(snapshot)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode schedule: %v", err), op)
		return
	}

	page := report.Paginate(schedule, pageNumber, h.rowsPerPage)
	response := scheduleResponse{
		Config:   config.FromLoanConfiguration(cfg),
		Summary:  buildSummary(cfg, schedule),
		Page:     buildPage(page),
		Periods:  len(schedule),
		Chart:    buildChart(schedule),
		CSV:      csvText,
		Warnings: warnings,
		Key:      key,
	}
	if !snapshot.SavedAt.IsZero() {
		response.SavedAt = snapshot.SavedAt.UTC().Format(time.RFC3339)
	}

	elapsed := time.Since(start)
	response.Duration = elapsed.String()

	h.logger.Info("schedule computed",
		zap.String("op", op),
		zap.Int("periods", len(schedule)),
		zap.Int("page", page.Number),
		zap.Duration("duration", elapsed),
	)

	h.writeJSON(w, http.StatusOK, response)
}

// staleRowsWarning is reported when stored rows no longer agree with the
// engine, e.g. a hand-edited CSV.
const staleRowsWarning = "Stored schedule rows differ from the schedule recomputed from the loan settings; the recomputed schedule is shown"

func rebuildSnapshot(snapshot codec.Snapshot) (codec.Snapshot, []string) {
	rebuilt := codec.Rebuild(snapshot)
	warnings := validation.Warnings(snapshot.Config)
	if len(snapshot.Schedule) > 0 && !codec.RowsMatch(snapshot.Schedule, rebuilt.Schedule) {
		warnings = append(warnings, staleRowsWarning)
	}
	return rebuilt, warnings
}

func buildSummary(cfg loans.LoanConfiguration, schedule []loans.AmortizationPeriod) *summaryView {
	summary, ok := report.Summarize(cfg, schedule)
	if !ok {
		return nil
	}

	view := &summaryView{
		MonthlyPayment: summary.MonthlyPayment,
		TotalPrincipal: summary.TotalPrincipal,
		TotalInterest:  summary.TotalInterest,
		TotalPayments:  summary.TotalPayments,
		PayoffMonths:   summary.PayoffMonths,
		PayoffDate:     datetime.FormatDate(summary.PayoffDate),
		Converged:      summary.Converged,
	}
	if s := summary.Savings; s != nil {
		view.Savings = &savingsView{
			OriginalTermMonths:    s.OriginalTermMonths,
			MonthsSaved:           s.MonthsSaved,
			OriginalTotalInterest: s.OriginalTotalInterest,
			InterestSaved:         s.InterestSaved,
			OriginalPayoffDate:    datetime.FormatDate(s.OriginalPayoffDate),
		}
	}
	return view
}

func buildPage(page report.Page) pageView {
	rows := make([]periodView, 0, len(page.Periods))
	for _, period := range page.Periods {
		rows = append(rows, periodView{
			Month:              period.Month,
			Payment:            period.Payment,
			RegularPayment:     period.RegularPayment(),
			Principal:          period.PrincipalComponent,
			Interest:           period.InterestComponent,
			Extra:              period.ExtraPaymentApplied,
			RemainingBalance:   period.RemainingBalance,
			CumulativeInterest: period.CumulativeInterest,
		})
	}
	return pageView{
		Number:     page.Number,
		TotalPages: page.TotalPages,
		PerPage:    page.PerPage,
		Rows:       rows,
	}
}

func buildChart(schedule []loans.AmortizationPeriod) []chartPoint {
	points := report.ChartPoints(schedule)
	chart := make([]chartPoint, 0, len(points))
	for _, point := range points {
		chart = append(chart, chartPoint{Month: point.Month, Year: point.Year, Balance: point.Balance})
	}
	return chart
}

func pageParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid page %q", raw)
	}
	return page, nil
}

func marshalOrderedConfigYAML(payload map[string]interface{}) ([]byte, error) {
	items := make([]orderedItem, 0, len(payload))
	seen := make(map[string]struct{})

	for _, key := range []string{"loan", "logging", "output", "storage", "advisor"} {
		if value, ok := payload[key]; ok {
			items = append(items, orderedItem{key: key, value: value})
			seen[key] = struct{}{}
		}
	}

	remainingKeys := make([]string, 0, len(payload))
	for key := range payload {
		if _, already := seen[key]; already {
			continue
		}
		remainingKeys = append(remainingKeys, key)
	}
	sort.Strings(remainingKeys)
	for _, key := range remainingKeys {
		items = append(items, orderedItem{key: key, value: payload[key]})
	}

	ordered := orderedConfig{items: items}
	return yaml.Marshal(ordered)
}

type orderedConfig struct {
	items []orderedItem
}

type orderedItem struct {
	key   string
	value interface{}
}

func (o orderedConfig) MarshalYAML() (interface{}, error) {
	mapNode := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
	}

	for _, item := range o.items {
		keyNode := &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: item.key,
		}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(item.value); err != nil {
			return nil, err
		}
		mapNode.Content = append(mapNode.Content, keyNode, valueNode)
	}

	return mapNode, nil
}

func (h *handler) respondStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondErrorWithOp(w, http.StatusNotFound, err.Error(), op)
	case errors.Is(err, store.ErrInvalidKey):
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
	default:
		h.respondErrorWithOp(w, http.StatusInternalServerError, err.Error(), op)
	}
}

func (h *handler) respondValidation(w http.ResponseWriter, err error, op string) {
	messages := validation.Errors(err)
	h.logger.Info("loan rejected",
		zap.String("op", op),
		zap.Strings("errors", messages),
	)
	h.writeJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{
		Error:  validation.ErrInvalid.Error(),
		Errors: messages,
	})
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

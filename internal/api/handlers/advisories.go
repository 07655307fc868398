// Package handlers contains the HTTP handlers mounted under /v1.
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"peakload/internal/core"
	"peakload/internal/notify"
	"peakload/internal/pipeline"
	"peakload/internal/report"
	"peakload/internal/series"
	"peakload/internal/types"
)

// Output formats accepted by the upload endpoint.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatText = "text"
)

const defaultMaxUploadBytes = 10 << 20

// AdvisoryService is the pipeline surface used by the handler.
type AdvisoryService interface {
	Run(ctx context.Context, req pipeline.Request) (*types.AdvisoryResult, error)
	RunScenarios(ctx context.Context, req pipeline.Request, scenarios []pipeline.Scenario) ([]pipeline.ScenarioResult, error)
}

// Notifier hands a finished run to the email channel.
type Notifier interface {
	Notify(ctx context.Context, result *types.AdvisoryResult, recipients []string) (notify.Receipt, error)
}

// ObservationSource supplies stored history when a request carries none.
type ObservationSource interface {
	List(ctx context.Context, from, to time.Time) ([]types.Observation, error)
}

// Defaults are the configured parameter and option snapshots used when a
// request omits them.
type Defaults struct {
	Parameters types.CapacityParameters
	Options    types.RunOptions
}

// AdvisoryHandler serves the advisory endpoints.
type AdvisoryHandler struct {
	service        AdvisoryService
	notifier       Notifier
	source         ObservationSource
	defaults       Defaults
	maxUploadBytes int64
	validate       *validator.Validate
	logger         *slog.Logger
}

// NewAdvisoryHandler creates an AdvisoryHandler. notifier may be nil, in
// which case the notify endpoint reports that email is not configured.
func NewAdvisoryHandler(service AdvisoryService, notifier Notifier, defaults Defaults, maxUploadBytes int64, logger *slog.Logger) *AdvisoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &AdvisoryHandler{
		service:        service,
		notifier:       notifier,
		defaults:       defaults,
		maxUploadBytes: maxUploadBytes,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         logger,
	}
}

// WithObservationSource makes requests without observations read the stored
// history from src.
func (h *AdvisoryHandler) WithObservationSource(src ObservationSource) *AdvisoryHandler {
	h.source = src
	return h
}

// RegisterRoutes mounts the advisory routes on r, which is expected to be
// scoped to /advisories.
func (h *AdvisoryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleRun)
	r.Post("/upload", h.HandleUpload)
	r.Post("/scenarios", h.HandleScenarios)
	r.Post("/notify", h.HandleNotify)
}

// observationInput is one history row in a JSON request. Volume accepts a
// number or a numeric string.
type observationInput struct {
	Date   string      `json:"date"`
	Volume json.Number `json:"volume"`
}

// optionsInput overrides individual run options; omitted fields keep the
// configured value.
type optionsInput struct {
	HorizonDays           *int     `json:"horizon_days,omitempty"`
	UseSeasonalAdjustment *bool    `json:"use_seasonal_adjustment,omitempty"`
	PeakShareDivisor      *float64 `json:"peak_share_divisor,omitempty"`
	BatchSplitRatio       *float64 `json:"batch_split_ratio,omitempty"`
	DuplicatePolicy       *string  `json:"duplicate_policy,omitempty"`
}

type runRequest struct {
	Observations []observationInput         `json:"observations"`
	Parameters   *types.CapacityParameters `json:"parameters,omitempty"`
	Options      *optionsInput             `json:"options,omitempty"`
}

type scenarioRequest struct {
	Observations []observationInput  `json:"observations"`
	Scenarios    []pipeline.Scenario `json:"scenarios"`
	Options      *optionsInput       `json:"options,omitempty"`
}

type notifyRequest struct {
	Observations []observationInput         `json:"observations"`
	Parameters   *types.CapacityParameters `json:"parameters,omitempty"`
	Options      *optionsInput             `json:"options,omitempty"`
	Recipients   []string                  `json:"recipients,omitempty"`
}

// AdvisoryResponse is the rendered result of one run.
type AdvisoryResponse struct {
	RunID         string                   `json:"run_id"`
	GeneratedAt   time.Time                `json:"generated_at"`
	CapacityLimit int64                    `json:"capacity_limit"`
	Parameters    types.CapacityParameters `json:"parameters"`
	Options       types.RunOptions         `json:"options"`
	Records       []report.Row             `json:"records"`
	Summary       string                   `json:"summary"`
	Advice        []report.Advice          `json:"advice"`
	Chart         report.ChartData         `json:"chart"`
}

// ScenarioResponse is one named scenario of a scenario run.
type ScenarioResponse struct {
	Name   string           `json:"name"`
	Result AdvisoryResponse `json:"result"`
}

// NotifyResponse reports the run and how its notification was handled.
type NotifyResponse struct {
	Advisory     AdvisoryResponse `json:"advisory"`
	Notification notify.Receipt   `json:"notification"`
}

func render(result *types.AdvisoryResult) AdvisoryResponse {
	return AdvisoryResponse{
		RunID:         result.RunID,
		GeneratedAt:   result.GeneratedAt,
		CapacityLimit: result.CapacityLimit,
		Parameters:    result.Parameters,
		Options:       result.Options,
		Records:       report.Rows(result.Records),
		Summary:       report.Summary(result.Records),
		Advice:        report.Advise(result.Records),
		Chart:         report.Chart(result),
	}
}

// HandleRun handles POST /v1/advisories.
func (h *AdvisoryHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	pr, err := h.buildRequest(r.Context(), req.Observations, req.Parameters, req.Options)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Run(r.Context(), pr)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, render(result))
}

// HandleUpload handles POST /v1/advisories/upload: a multipart "file" field
// holding a CSV or XLSX history, with optional "parameters" and "options"
// JSON fields. The format query parameter selects JSON (default), an XLSX
// export or the plain-text summary.
func (h *AdvisoryHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatXLSX && format != FormatText {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationUnsupported,
			fmt.Sprintf("unsupported output format %q", format), nil,
			map[string]any{"allowed": []string{FormatJSON, FormatXLSX, FormatText}}))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationUnsupported,
			fmt.Sprintf("request must be multipart/form-data no larger than %d bytes", h.maxUploadBytes), err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	table, err := h.readUpload(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var params *types.CapacityParameters
	if raw := r.FormValue("parameters"); raw != "" {
		params = &types.CapacityParameters{}
		if err := core.DecodeJSONBytes([]byte(raw), params); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	var opts *optionsInput
	if raw := r.FormValue("options"); raw != "" {
		opts = &optionsInput{}
		if err := core.DecodeJSONBytes([]byte(raw), opts); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	pr := h.settings(nil, params, opts)
	pr.Table = &table

	result, err := h.service.Run(r.Context(), pr)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	switch format {
	case FormatXLSX:
		w.Header().Set("Content-Type", report.XLSXContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.XLSXFilename))
		w.Header().Set("X-Run-Id", result.RunID)
		if err := report.WriteXLSX(w, result); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to write xlsx export", "run_id", result.RunID, "error", err)
		}
	case FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Run-Id", result.RunID)
		_, _ = fmt.Fprintln(w, report.Summary(result.Records))
	default:
		core.Data(w, r, http.StatusOK, render(result))
	}
}

// readUpload decodes the "file" part. A file name without a known extension
// is sniffed from its first bytes.
func (h *AdvisoryHandler) readUpload(r *http.Request) (series.Table, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return series.Table{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"multipart field \"file\" is required", err, map[string]any{"field": "file"})
	}
	defer file.Close()

	name := header.Filename
	br := bufio.NewReader(file)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".xlsx", ".xlsm", ".gz", ".zst", ".zstd":
	default:
		head, _ := br.Peek(4)
		name = "upload." + series.Sniff(head)
	}
	return series.Read(br, name)
}

// HandleScenarios handles POST /v1/advisories/scenarios.
func (h *AdvisoryHandler) HandleScenarios(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	pr, err := h.buildRequest(r.Context(), req.Observations, nil, req.Options)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	results, err := h.service.RunScenarios(r.Context(), pr, req.Scenarios)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]ScenarioResponse, len(results))
	for i, res := range results {
		out[i] = ScenarioResponse{Name: res.Name, Result: render(res.Result)}
	}
	core.Data(w, r, http.StatusOK, out)
}

// HandleNotify handles POST /v1/advisories/notify: it runs the pipeline and
// hands the result to the notifier. The response is 202 when the email was
// queued and 200 when it was sent synchronously.
func (h *AdvisoryHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "email notifications are not configured", nil))
		return
	}

	var req notifyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validate.Var(req.Recipients, "dive,email"); err != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON,
			"recipients must be valid email addresses", err, map[string]any{"field": "recipients"}))
		return
	}

	pr, err := h.buildRequest(r.Context(), req.Observations, req.Parameters, req.Options)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Run(r.Context(), pr)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	receipt, err := h.notifier.Notify(r.Context(), result, req.Recipients)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "advisory notification dispatched",
		"run_id", result.RunID,
		"mode", receipt.Mode,
		"recipients", len(receipt.Recipients),
	)

	status := http.StatusOK
	if receipt.Mode == notify.ModeQueued {
		status = http.StatusAccepted
	}
	core.Data(w, r, status, NotifyResponse{Advisory: render(result), Notification: receipt})
}

// buildRequest converts the request body into a pipeline request. Omitted
// parameters fall back to the configured snapshot as a whole; supplied
// parameters are used as given and validated by the pipeline. An empty
// observation list reads the stored history when a source is configured.
func (h *AdvisoryHandler) buildRequest(ctx context.Context, observations []observationInput, params *types.CapacityParameters, opts *optionsInput) (pipeline.Request, error) {
	history, err := parseObservations(observations)
	if err != nil {
		return pipeline.Request{}, err
	}
	if len(history) == 0 && h.source != nil {
		history, err = h.source.List(ctx, time.Time{}, time.Time{})
		if err != nil {
			return pipeline.Request{}, err
		}
	}
	return h.settings(history, params, opts), nil
}

// settings applies the parameter and option overrides to the configured
// defaults.
func (h *AdvisoryHandler) settings(history []types.Observation, params *types.CapacityParameters, opts *optionsInput) pipeline.Request {
	req := pipeline.Request{
		History:    history,
		Parameters: h.defaults.Parameters,
		Options:    h.defaults.Options,
	}
	if params != nil {
		req.Parameters = *params
	}
	if opts != nil {
		opts.apply(&req.Options)
	}
	return req
}

func (o *optionsInput) apply(dst *types.RunOptions) {
	if o.HorizonDays != nil {
		dst.Horizon = *o.HorizonDays
	}
	if o.UseSeasonalAdjustment != nil {
		dst.UseSeasonalAdjustment = *o.UseSeasonalAdjustment
	}
	if o.PeakShareDivisor != nil {
		dst.PeakShareDivisor = *o.PeakShareDivisor
	}
	if o.BatchSplitRatio != nil {
		dst.BatchSplitRatio = *o.BatchSplitRatio
	}
	if o.DuplicatePolicy != nil {
		dst.DuplicatePolicy = types.DuplicatePolicy(*o.DuplicatePolicy)
	}
}

// parseObservations parses JSON rows with the same cell rules as tabular
// input. Row numbers in errors are 1-based positions in the array.
func parseObservations(in []observationInput) ([]types.Observation, error) {
	out := make([]types.Observation, len(in))
	for i, o := range in {
		row := i + 1
		date, err := series.ParseDate(o.Date)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidDate,
				fmt.Sprintf("row %d: cannot parse date %q", row, o.Date),
				err,
				map[string]any{"row": row, "value": o.Date},
			)
		}
		volume, err := series.ParseVolume(o.Volume.String())
		if err != nil {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidVolume,
				fmt.Sprintf("row %d: invalid outbound volume %q", row, o.Volume.String()),
				err,
				map[string]any{"row": row, "date": date.Format(types.DateLayout), "value": o.Volume.String()},
			)
		}
		out[i] = types.Observation{Date: date, Volume: volume}
	}
	return out, nil
}

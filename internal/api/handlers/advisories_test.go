package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peakload/internal/core"
	"peakload/internal/forecast"
	"peakload/internal/notify"
	"peakload/internal/pipeline"
	"peakload/internal/report"
	"peakload/internal/types"
)

// --- Fakes ---

type fakeService struct {
	lastReq       pipeline.Request
	lastScenarios []pipeline.Scenario
	result        *types.AdvisoryResult
	scenarios     []pipeline.ScenarioResult
	err           error
}

func (f *fakeService) Run(_ context.Context, req pipeline.Request) (*types.AdvisoryResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeService) RunScenarios(_ context.Context, req pipeline.Request, scenarios []pipeline.Scenario) ([]pipeline.ScenarioResult, error) {
	f.lastReq = req
	f.lastScenarios = scenarios
	return f.scenarios, f.err
}

type fakeNotifier struct {
	recipients []string
	receipt    notify.Receipt
	err        error
	calls      int
}

func (f *fakeNotifier) Notify(_ context.Context, _ *types.AdvisoryResult, recipients []string) (notify.Receipt, error) {
	f.calls++
	f.recipients = recipients
	return f.receipt, f.err
}

// --- Helpers ---

var testParams = types.CapacityParameters{
	NumWorkers:        10,
	EfficiencyPerHour: 100,
	PeakHours:         2,
	SKUEfficiency:     0.9,
	SafetyFactor:      1.2,
	PeakCoef:          1.5,
}

func day(s string) time.Time {
	t, _ := time.Parse(types.DateLayout, s)
	return t
}

func cannedResult() *types.AdvisoryResult {
	return &types.AdvisoryResult{
		RunID:         "run-1",
		GeneratedAt:   day("2024-03-10"),
		CapacityLimit: 2160,
		Parameters:    testParams,
		Options:       types.DefaultRunOptions(),
		History: types.Series{
			{Date: day("2024-03-09"), Volume: 4000},
		},
		Records: []types.AdvisoryRecord{
			{
				Date:                      day("2024-03-10"),
				PredictedVolume:           5000,
				PeakLoad:                  2500,
				CapacityLimit:             2160,
				StrategyTriggered:         true,
				LaborUtilization:          1.157407,
				VehicleUtilization:        1.1,
				EquipmentUtilization:      1.05,
				RecommendedExtraWorkers:   2,
				RecommendedExtraHours:     0.314814,
				BatchSplitRecommended:     false,
				RecommendedShippingWindow: types.WindowExtendedHours,
			},
		},
	}
}

func newRouter(h *AdvisoryHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/advisories", h.RegisterRoutes)
	return r
}

func newHandler(svc AdvisoryService, n Notifier) *AdvisoryHandler {
	return NewAdvisoryHandler(svc, n, Defaults{Parameters: testParams, Options: types.DefaultRunOptions()}, 1<<20, nil)
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func decodeAdvisory(t *testing.T, w *httptest.ResponseRecorder) AdvisoryResponse {
	t.Helper()
	var resp struct {
		Data AdvisoryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

// --- HandleRun ---

func TestHandleRun_UsesConfiguredDefaults(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	w := postJSON(t, newRouter(newHandler(svc, nil)), "/v1/advisories",
		`{"observations":[{"date":"2024-03-08","volume":3900},{"date":"2024/03/09","volume":"4000"}]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, testParams, svc.lastReq.Parameters)
	assert.Equal(t, types.DefaultRunOptions(), svc.lastReq.Options)
	require.Len(t, svc.lastReq.History, 2)
	assert.Equal(t, day("2024-03-09"), svc.lastReq.History[1].Date)
	assert.Equal(t, int64(4000), svc.lastReq.History[1].Volume)

	resp := decodeAdvisory(t, w)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, int64(2160), resp.CapacityLimit)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, 1.16, resp.Records[0].LaborUtilization)
	assert.Equal(t, 0.31, resp.Records[0].RecommendedExtraHours)
	assert.Equal(t, report.Summary(cannedResult().Records), resp.Summary)
	require.Len(t, resp.Advice, 1)
	assert.True(t, resp.Advice[0].Warning)
	assert.Len(t, resp.Chart.Historical, 1)
}

func TestHandleRun_OverridesParametersAndOptions(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	body := `{
		"observations":[{"date":"2024-03-08","volume":3900}],
		"parameters":{"num_workers":4,"efficiency_per_hour":80,"peak_hours":3,"sku_efficiency":1,"safety_factor":1,"peak_coef":2},
		"options":{"horizon_days":14,"duplicate_policy":"sum"}
	}`
	w := postJSON(t, newRouter(newHandler(svc, nil)), "/v1/advisories", body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4, svc.lastReq.Parameters.NumWorkers)
	assert.Equal(t, 2.0, svc.lastReq.Parameters.PeakCoef)
	assert.Equal(t, 14, svc.lastReq.Options.Horizon)
	assert.Equal(t, types.DuplicateSum, svc.lastReq.Options.DuplicatePolicy)
	assert.True(t, svc.lastReq.Options.UseSeasonalAdjustment, "omitted options keep the configured value")
	assert.Equal(t, types.DefaultPeakShareDivisor, svc.lastReq.Options.PeakShareDivisor)
}

func TestHandleRun_BadRows(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode types.ErrorCode
		wantRow  float64
	}{
		{
			name:     "bad date",
			body:     `{"observations":[{"date":"2024-03-08","volume":1},{"date":"yesterday","volume":2}]}`,
			wantCode: types.ErrCodeValidationInvalidDate,
			wantRow:  2,
		},
		{
			name:     "negative volume",
			body:     `{"observations":[{"date":"2024-03-08","volume":-5}]}`,
			wantCode: types.ErrCodeValidationInvalidVolume,
			wantRow:  1,
		},
		{
			name:     "missing volume",
			body:     `{"observations":[{"date":"2024-03-08"}]}`,
			wantCode: types.ErrCodeValidationInvalidVolume,
			wantRow:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{result: cannedResult()}
			w := postJSON(t, newRouter(newHandler(svc, nil)), "/v1/advisories", tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)
			detail := decodeError(t, w)
			assert.Equal(t, string(tt.wantCode), detail.Code)
			assert.Equal(t, tt.wantRow, detail.Details["row"])
			assert.Nil(t, svc.lastReq.History, "service must not run on invalid rows")
		})
	}
}

func TestHandleRun_InvalidJSON(t *testing.T) {
	w := postJSON(t, newRouter(newHandler(&fakeService{}, nil)), "/v1/advisories", `{"observations": [`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidJSON), decodeError(t, w).Code)
}

func TestHandleRun_ServiceErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"schema", types.NewSchemaError([]string{"date"}, []string{"day"}), http.StatusBadRequest},
		{"duplicate", types.NewDuplicateDateError(day("2024-03-08"), []int{2, 3}), http.StatusBadRequest},
		{"config", types.NewInvalidConfigurationError("peak_hours", 4, "oneof=1 2 3"), http.StatusBadRequest},
		{"fit", types.NewForecasterError(types.ErrCodeForecasterInsufficientData, "need 2 observations", nil), http.StatusUnprocessableEntity},
		{"upstream", types.NewForecasterError(types.ErrCodeUpstreamForecaster, "forecast service unavailable", nil), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			w := postJSON(t, newRouter(newHandler(svc, nil)), "/v1/advisories",
				`{"observations":[{"date":"2024-03-08","volume":1}]}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

// --- HandleUpload ---

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, h http.Handler, query string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/advisories/upload"+query, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const uploadCSV = "date,outbound_volume\n2024-03-08,3900\n2024-03-09,4000\n"

func TestHandleUpload_CSVToJSON(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	body, ct := multipartBody(t, "history.csv", uploadCSV, map[string]string{
		"parameters": `{"num_workers":12,"efficiency_per_hour":100,"peak_hours":2,"sku_efficiency":0.9,"safety_factor":1.2,"peak_coef":1.5}`,
		"options":    `{"use_seasonal_adjustment":false}`,
	})

	w := upload(t, newRouter(newHandler(svc, nil)), "", body, ct)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, svc.lastReq.Table)
	assert.Equal(t, []string{"date", "outbound_volume"}, svc.lastReq.Table.Header)
	assert.Len(t, svc.lastReq.Table.Rows, 2)
	assert.Equal(t, 12, svc.lastReq.Parameters.NumWorkers)
	assert.False(t, svc.lastReq.Options.UseSeasonalAdjustment)
	assert.Equal(t, "run-1", decodeAdvisory(t, w).RunID)
}

func TestHandleUpload_SniffsUnnamedCSV(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	body, ct := multipartBody(t, "export", uploadCSV, nil)

	w := upload(t, newRouter(newHandler(svc, nil)), "", body, ct)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, svc.lastReq.Table)
	assert.Len(t, svc.lastReq.Table.Rows, 2)
}

func TestHandleUpload_TextFormat(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	body, ct := multipartBody(t, "history.csv", uploadCSV, nil)

	w := upload(t, newRouter(newHandler(svc, nil)), "?format=text", body, ct)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "run-1", w.Header().Get("X-Run-Id"))
	assert.Equal(t, report.Summary(cannedResult().Records)+"\n", w.Body.String())
}

func TestHandleUpload_XLSXFormat(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	body, ct := multipartBody(t, "history.csv", uploadCSV, nil)

	w := upload(t, newRouter(newHandler(svc, nil)), "?format=xlsx", body, ct)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.XLSXContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), report.XLSXFilename)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx export must be a zip archive")
}

func TestHandleUpload_Errors(t *testing.T) {
	t.Run("unknown format", func(t *testing.T) {
		body, ct := multipartBody(t, "history.csv", uploadCSV, nil)
		w := upload(t, newRouter(newHandler(&fakeService{}, nil)), "?format=pdf", body, ct)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(types.ErrCodeValidationUnsupported), decodeError(t, w).Code)
	})

	t.Run("missing file", func(t *testing.T) {
		body, ct := multipartBody(t, "", "", map[string]string{"parameters": "{}"})
		w := upload(t, newRouter(newHandler(&fakeService{}, nil)), "", body, ct)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeError(t, w).Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		w := upload(t, newRouter(newHandler(&fakeService{}, nil)), "", bytes.NewBufferString("{}"), "application/json")
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad parameters field", func(t *testing.T) {
		body, ct := multipartBody(t, "history.csv", uploadCSV, map[string]string{"parameters": `{"workers":3}`})
		w := upload(t, newRouter(newHandler(&fakeService{}, nil)), "", body, ct)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(types.ErrCodeValidationInvalidJSON), decodeError(t, w).Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := uploadCSV + strings.Repeat("2024-03-10,1\n", 200)
		body, ct := multipartBody(t, "history.csv", big, nil)
		h := NewAdvisoryHandler(&fakeService{}, nil, Defaults{Parameters: testParams, Options: types.DefaultRunOptions()}, 512, nil)
		w := upload(t, newRouter(h), "", body, ct)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// --- HandleScenarios ---

func TestHandleScenarios(t *testing.T) {
	a, b := cannedResult(), cannedResult()
	b.RunID = "run-2"
	svc := &fakeService{scenarios: []pipeline.ScenarioResult{
		{Name: "baseline", Result: a},
		{Name: "scenario-2", Result: b},
	}}
	body := `{
		"observations":[{"date":"2024-03-08","volume":3900}],
		"scenarios":[
			{"name":"baseline","parameters":{"num_workers":10,"efficiency_per_hour":100,"peak_hours":2,"sku_efficiency":0.9,"safety_factor":1.2,"peak_coef":1.5}},
			{"parameters":{"num_workers":14,"efficiency_per_hour":100,"peak_hours":2,"sku_efficiency":0.9,"safety_factor":1.2,"peak_coef":1.5}}
		]
	}`

	w := postJSON(t, newRouter(newHandler(svc, nil)), "/v1/advisories/scenarios", body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, svc.lastScenarios, 2)
	assert.Equal(t, 14, svc.lastScenarios[1].Parameters.NumWorkers)

	var resp struct {
		Data []ScenarioResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "baseline", resp.Data[0].Name)
	assert.Equal(t, "run-2", resp.Data[1].Result.RunID)
}

func TestHandleScenarios_TooMany(t *testing.T) {
	svc := &fakeService{err: types.NewAppError(types.ErrCodeValidationScenarioCount, "between 1 and 20 scenarios are required", nil)}
	w := postJSON(t, newRouter(newHandler(svc, nil)), "/v1/advisories/scenarios",
		`{"observations":[{"date":"2024-03-08","volume":3900}],"scenarios":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrCodeValidationScenarioCount), decodeError(t, w).Code)
}

// --- HandleNotify ---

func TestHandleNotify(t *testing.T) {
	tests := []struct {
		name       string
		receipt    notify.Receipt
		wantStatus int
	}{
		{"queued", notify.Receipt{NotificationID: "n-1", Mode: notify.ModeQueued, Recipients: []string{"ops@example.com"}}, http.StatusAccepted},
		{"sent", notify.Receipt{Mode: notify.ModeSent, Recipients: []string{"ops@example.com"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{result: cannedResult()}
			n := &fakeNotifier{receipt: tt.receipt}
			w := postJSON(t, newRouter(newHandler(svc, n)), "/v1/advisories/notify",
				`{"observations":[{"date":"2024-03-08","volume":3900}],"recipients":["ops@example.com"]}`)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, []string{"ops@example.com"}, n.recipients)

			var resp struct {
				Data NotifyResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.receipt.Mode, resp.Data.Notification.Mode)
			assert.Equal(t, "run-1", resp.Data.Advisory.RunID)
		})
	}
}

func TestHandleNotify_Errors(t *testing.T) {
	body := `{"observations":[{"date":"2024-03-08","volume":3900}]}`

	t.Run("not configured", func(t *testing.T) {
		w := postJSON(t, newRouter(newHandler(&fakeService{result: cannedResult()}, nil)), "/v1/advisories/notify", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeError(t, w).Code)
	})

	t.Run("invalid recipient", func(t *testing.T) {
		n := &fakeNotifier{}
		w := postJSON(t, newRouter(newHandler(&fakeService{result: cannedResult()}, n)), "/v1/advisories/notify",
			`{"observations":[{"date":"2024-03-08","volume":3900}],"recipients":["not-an-address"]}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, n.calls)
	})

	t.Run("delivery failure", func(t *testing.T) {
		n := &fakeNotifier{err: types.NewAppError(types.ErrCodeUpstreamEmailProvider, "smtp relay unavailable", nil)}
		w := postJSON(t, newRouter(newHandler(&fakeService{result: cannedResult()}, n)), "/v1/advisories/notify", body)
		require.Equal(t, http.StatusBadGateway, w.Code)
	})
}

// --- End to end with the linear forecaster ---

func TestHandleRun_LinearPipeline(t *testing.T) {
	svc := pipeline.NewService(forecast.NewLinearForecaster(nil))
	h := newRouter(newHandler(svc, nil))

	var rows []string
	start := day("2024-01-01")
	for i := range 28 {
		rows = append(rows, fmt.Sprintf(`{"date":"%s","volume":%d}`, start.AddDate(0, 0, i).Format(types.DateLayout), 3000+10*i))
	}
	w := postJSON(t, h, "/v1/advisories", `{"observations":[`+strings.Join(rows, ",")+`]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeAdvisory(t, w)
	require.Len(t, resp.Records, types.DefaultHorizon)
	assert.Equal(t, "2024-01-29", resp.Records[0].Date)
	assert.Equal(t, int64(2160), resp.CapacityLimit)
	for _, rec := range resp.Records {
		assert.Equal(t, resp.CapacityLimit, rec.CapacityLimit)
		assert.Equal(t, rec.PeakLoad > rec.CapacityLimit, rec.StrategyTriggered)
	}
	assert.Len(t, strings.Split(resp.Summary, "\n"), types.DefaultHorizon)
}

// --- Stored history ---

type fakeSource struct {
	obs   []types.Observation
	err   error
	calls int
}

func (f *fakeSource) List(_ context.Context, _, _ time.Time) ([]types.Observation, error) {
	f.calls++
	return f.obs, f.err
}

func TestHandleRun_ReadsStoredHistoryWhenBodyHasNone(t *testing.T) {
	svc := &fakeService{result: cannedResult()}
	src := &fakeSource{obs: []types.Observation{{Date: day("2024-03-08"), Volume: 3900}}}
	h := newHandler(svc, nil).WithObservationSource(src)

	w := postJSON(t, newRouter(h), "/v1/advisories", `{}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, src.obs, svc.lastReq.History)

	w = postJSON(t, newRouter(h), "/v1/advisories", `{"observations":[{"date":"2024-03-09","volume":1}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, src.calls, "explicit observations must not touch the store")
}

func TestHandleRun_StoredHistoryFailure(t *testing.T) {
	src := &fakeSource{err: types.NewAppError(types.ErrCodeInternalDB, "failed to query outbound volume", nil)}
	h := newHandler(&fakeService{}, nil).WithObservationSource(src)

	w := postJSON(t, newRouter(h), "/v1/advisories", `{}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), decodeError(t, w).Code)
}

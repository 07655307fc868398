package types

import "time"

// DateLayout is the canonical day format used in summaries, exports and JSON.
const DateLayout = "2006-01-02"

// Observation is one validated historical data point: the outbound volume
// shipped on a calendar day. Date is always UTC midnight.
type Observation struct {
	Date   time.Time `json:"date"`
	Volume int64     `json:"volume"`
}

// Series is a validated historical series, sorted by date ascending with at
// most one observation per date.
type Series []Observation

// LastDate returns the date of the latest observation, or the zero time for an
// empty series.
func (s Series) LastDate() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Date
}

// ForecastPoint is a predicted volume for a day after the last historical date.
type ForecastPoint struct {
	Date            time.Time `json:"date"`
	PredictedVolume int64     `json:"predicted_volume"`
}

// CapacityParameters describes the staffing resources for a run. It is passed
// by value into every run and never mutated.
type CapacityParameters struct {
	NumWorkers        int     `json:"num_workers" validate:"gte=1"`
	EfficiencyPerHour float64 `json:"efficiency_per_hour" validate:"finite,gt=0"`
	PeakHours         int     `json:"peak_hours" validate:"oneof=1 2 3"`
	SKUEfficiency     float64 `json:"sku_efficiency" validate:"gte=0.5,lte=1"`
	SafetyFactor      float64 `json:"safety_factor" validate:"gte=1,lte=1.5"`
	PeakCoef          float64 `json:"peak_coef" validate:"gte=1,lte=2.5"`
}

// RunOptions carries the business assumptions of a run that are not resource
// parameters.
type RunOptions struct {
	Horizon               int             `json:"horizon_days" validate:"gte=1,lte=90"`
	UseSeasonalAdjustment bool            `json:"use_seasonal_adjustment"`
	PeakShareDivisor      float64         `json:"peak_share_divisor" validate:"finite,gt=0"`
	BatchSplitRatio       float64         `json:"batch_split_ratio" validate:"gt=0,lte=1"`
	DuplicatePolicy       DuplicatePolicy `json:"duplicate_policy" validate:"oneof=reject sum"`
}

// Reference values for RunOptions.
const (
	DefaultHorizon          = 7
	DefaultPeakShareDivisor = 3.0
	DefaultBatchSplitRatio  = 0.3
)

// DefaultRunOptions returns the reference configuration.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Horizon:               DefaultHorizon,
		UseSeasonalAdjustment: true,
		PeakShareDivisor:      DefaultPeakShareDivisor,
		BatchSplitRatio:       DefaultBatchSplitRatio,
		DuplicatePolicy:       DuplicateReject,
	}
}

// AdvisoryRecord is the staffing advisory for one forecast day.
// Utilization values are unrounded; rounding happens when records are rendered.
type AdvisoryRecord struct {
	Date                      time.Time      `json:"date"`
	PredictedVolume           int64          `json:"predicted_volume"`
	PeakLoad                  int64          `json:"peak_load"`
	CapacityLimit             int64          `json:"capacity_limit"`
	StrategyTriggered         bool           `json:"strategy_triggered"`
	LaborUtilization          float64        `json:"labor_utilization"`
	VehicleUtilization        float64        `json:"vehicle_utilization"`
	EquipmentUtilization      float64        `json:"equipment_utilization"`
	RecommendedExtraWorkers   int64          `json:"recommended_extra_workers"`
	RecommendedExtraHours     float64        `json:"recommended_extra_hours"`
	BatchSplitRecommended     bool           `json:"batch_split_recommended"`
	RecommendedShippingWindow ShippingWindow `json:"recommended_shipping_window"`
}

// AdvisoryResult is the complete output of one pipeline run.
type AdvisoryResult struct {
	RunID         string             `json:"run_id"`
	GeneratedAt   time.Time          `json:"generated_at"`
	CapacityLimit int64              `json:"capacity_limit"`
	Parameters    CapacityParameters `json:"parameters"`
	Options       RunOptions         `json:"options"`
	History       Series             `json:"history"`
	Records       []AdvisoryRecord   `json:"records"`
}

// TriggeredDays counts the records whose peak load exceeds capacity.
func (r *AdvisoryResult) TriggeredDays() int {
	n := 0
	for _, rec := range r.Records {
		if rec.StrategyTriggered {
			n++
		}
	}
	return n
}

// Attachment is a named binary payload delivered alongside a notification.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

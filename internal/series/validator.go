// Package series reads historical outbound-volume tables and validates them
// into a types.Series.
package series

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"peakload/internal/types"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Default header aliases. Matching ignores case and surrounding or repeated
// whitespace.
var (
	DefaultDateColumns   = []string{"date", "日期"}
	DefaultVolumeColumns = []string{"outbound_volume", "outbound volume", "volume", "出库量"}
)

// dateLayouts are tried in order before falling back to Excel serial numbers.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"20060102",
}

// maxExcelSerial is 9999-12-31 in the 1900 date system.
const maxExcelSerial = 2958465

var maxVolume = decimal.NewFromInt(math.MaxInt64)

// Table is a raw tabular data source: a header row and the data rows below
// it. Row i of Rows is line i+2 of the source.
type Table struct {
	Header []string
	Rows   [][]string
}

// Validator turns a Table into a validated Series.
type Validator struct {
	dateColumns   []string
	volumeColumns []string
	policy        types.DuplicatePolicy
}

// Option configures a Validator.
type Option func(*Validator)

// WithDateColumns replaces the accepted date header aliases.
func WithDateColumns(aliases ...string) Option {
	return func(v *Validator) {
		if len(aliases) > 0 {
			v.dateColumns = aliases
		}
	}
}

// WithVolumeColumns replaces the accepted volume header aliases.
func WithVolumeColumns(aliases ...string) Option {
	return func(v *Validator) {
		if len(aliases) > 0 {
			v.volumeColumns = aliases
		}
	}
}

// WithDuplicatePolicy sets how repeated dates are handled.
func WithDuplicatePolicy(p types.DuplicatePolicy) Option {
	return func(v *Validator) {
		v.policy = p
	}
}

// NewValidator creates a Validator with the default aliases and the reject
// duplicate policy unless overridden.
func NewValidator(opts ...Option) Validator {
	v := Validator{
		dateColumns:   DefaultDateColumns,
		volumeColumns: DefaultVolumeColumns,
		policy:        types.DuplicateReject,
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// WithPolicy returns a copy of v using policy p.
func (v Validator) WithPolicy(p types.DuplicatePolicy) Validator {
	if p != "" {
		v.policy = p
	}
	return v
}

// Policy returns the duplicate policy in effect.
func (v Validator) Policy() types.DuplicatePolicy { return v.policy }

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

func findColumn(header []string, aliases []string) int {
	for i, h := range header {
		name := normalizeHeader(h)
		for _, alias := range aliases {
			if name == normalizeHeader(alias) {
				return i
			}
		}
	}
	return -1
}

type sourcedObservation struct {
	types.Observation
	row int
}

// Validate checks the column contract, parses every non-blank row and returns
// the series sorted by date with one observation per date.
func (v Validator) Validate(table Table) (types.Series, error) {
	dateIdx := findColumn(table.Header, v.dateColumns)
	volumeIdx := findColumn(table.Header, v.volumeColumns)

	var missing []string
	if dateIdx < 0 {
		missing = append(missing, v.dateColumns[0])
	}
	if volumeIdx < 0 {
		missing = append(missing, v.volumeColumns[0])
	}
	if len(missing) > 0 {
		return nil, types.NewSchemaError(missing, slices.Clone(table.Header))
	}

	obs := make([]sourcedObservation, 0, len(table.Rows))
	for i, row := range table.Rows {
		if isBlank(row) {
			continue
		}
		rowNum := i + 2
		rawDate := cell(row, dateIdx)
		date, err := ParseDate(rawDate)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidDate,
				fmt.Sprintf("row %d: cannot parse date %q", rowNum, rawDate),
				err,
				map[string]any{"row": rowNum, "value": rawDate},
			)
		}
		rawVolume := cell(row, volumeIdx)
		volume, err := ParseVolume(rawVolume)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidVolume,
				fmt.Sprintf("row %d: invalid outbound volume %q", rowNum, rawVolume),
				err,
				map[string]any{"row": rowNum, "date": date.Format(types.DateLayout), "value": rawVolume},
			)
		}
		obs = append(obs, sourcedObservation{
			Observation: types.Observation{Date: date, Volume: volume},
			row:         rowNum,
		})
	}
	return v.finish(obs)
}

// Normalize validates observations that did not come from a table, such as
// database rows or a JSON request. Row numbers in errors are 1-based positions
// in the input slice.
func (v Validator) Normalize(in []types.Observation) (types.Series, error) {
	obs := make([]sourcedObservation, len(in))
	for i, o := range in {
		if o.Volume < 0 {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidVolume,
				fmt.Sprintf("row %d: outbound volume must not be negative", i+1),
				nil,
				map[string]any{"row": i + 1, "date": o.Date.Format(types.DateLayout), "value": o.Volume},
			)
		}
		if o.Date.IsZero() {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidDate,
				fmt.Sprintf("row %d: date is missing", i+1),
				nil,
				map[string]any{"row": i + 1, "value": ""},
			)
		}
		obs[i] = sourcedObservation{
			Observation: types.Observation{Date: truncateDay(o.Date), Volume: o.Volume},
			row:         i + 1,
		}
	}
	return v.finish(obs)
}

func (v Validator) finish(obs []sourcedObservation) (types.Series, error) {
	if len(obs) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptySeries, "the historical series contains no observations", nil)
	}

	slices.SortStableFunc(obs, func(a, b sourcedObservation) int {
		return a.Date.Compare(b.Date)
	})

	out := make(types.Series, 0, len(obs))
	for i := 0; i < len(obs); {
		j := i + 1
		for j < len(obs) && obs[j].Date.Equal(obs[i].Date) {
			j++
		}
		if j-i > 1 && v.policy != types.DuplicateSum {
			rows := make([]int, 0, j-i)
			for _, o := range obs[i:j] {
				rows = append(rows, o.row)
			}
			slices.Sort(rows)
			return nil, types.NewDuplicateDateError(obs[i].Date, rows)
		}
		merged := obs[i].Observation
		for _, o := range obs[i+1 : j] {
			if merged.Volume > math.MaxInt64-o.Volume {
				return nil, types.NewAppErrorWithDetails(
					types.ErrCodeValidationInvalidVolume,
					fmt.Sprintf("outbound volume total for %s is too large", merged.Date.Format(types.DateLayout)),
					nil,
					map[string]any{"row": o.row, "date": merged.Date.Format(types.DateLayout), "value": o.Volume},
				)
			}
			merged.Volume += o.Volume
		}
		out = append(out, merged)
		i = j
	}
	return out, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a date cell. Timestamps keep only their calendar day, as
// seen in their own offset. Numeric cells are read as Excel serial dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil || serial < 1 || serial > maxExcelSerial {
		return time.Time{}, errors.New("unrecognized date format")
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, err
	}
	return truncateDay(t), nil
}

// ParseVolume parses a volume cell. Decimal values are rounded half to even;
// thousands separators are accepted. Negative values are rejected.
func ParseVolume(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, errors.New("empty volume")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if d.IsNegative() {
		return 0, errors.New("volume must not be negative")
	}
	r := d.RoundBank(0)
	if r.GreaterThan(maxVolume) {
		return 0, errors.New("volume is too large")
	}
	return r.IntPart(), nil
}

// Package capacity holds the resource arithmetic of the warehouse: the peak
// capacity limit and the three utilization ratios.
package capacity

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"peakload/internal/types"

	"github.com/go-playground/validator/v10"
)

// Fixed physical capacities.
const (
	// VehicleCapacity is the daily vehicle loading capacity in units.
	VehicleCapacity = 9000
	// EquipmentCapacity is the daily sorting equipment capacity in units.
	EquipmentCapacity = 10800
	// ShiftHours is the length of one worker shift.
	ShiftHours = 8
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator, which reports fields by their
// JSON names.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return !math.IsInf(f, 0) && !math.IsNaN(f)
		})
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs the validate tags of v and converts the first failure
// into an InvalidConfigurationError.
func ValidateStruct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		rule := fe.Tag()
		if fe.Param() != "" {
			rule = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return types.NewInvalidConfigurationError(fe.Field(), fe.Value(), rule)
	}
	return types.NewAppError(types.ErrCodeValidationInvalidConfig, "invalid configuration", err)
}

// Validate checks every capacity parameter against its documented range and
// that the capacity limit fits in an int64.
func Validate(p types.CapacityParameters) error {
	if err := ValidateStruct(p); err != nil {
		return err
	}
	if limitProduct(p) >= math.MaxInt64 {
		return types.NewInvalidConfigurationError("efficiency_per_hour", p.EfficiencyPerHour, "limit_overflow")
	}
	return nil
}

// ValidateOptions checks the run options.
func ValidateOptions(opts types.RunOptions) error {
	return ValidateStruct(opts)
}

// Limit is the maximum volume the warehouse can handle during the peak window:
// floor(workers × efficiency × peak hours × SKU efficiency × safety factor).
func Limit(p types.CapacityParameters) int64 {
	return int64(math.Floor(limitProduct(p)))
}

func limitProduct(p types.CapacityParameters) float64 {
	return float64(p.NumWorkers) * p.EfficiencyPerHour * float64(p.PeakHours) * p.SKUEfficiency * p.SafetyFactor
}

// VehicleUtilization is volume over vehicle capacity, within [0, 1].
func VehicleUtilization(volume int64) float64 {
	return math.Max(0, math.Min(1, float64(volume)/VehicleCapacity))
}

// EquipmentUtilization is volume over equipment capacity, within [0, 1].
func EquipmentUtilization(volume int64) float64 {
	return math.Max(0, math.Min(1, float64(volume)/EquipmentCapacity))
}

// LaborUtilization is volume over the daily labor capacity of a full shift.
// It is not clamped: values above 1 mean the staff cannot clear the day.
func LaborUtilization(volume int64, p types.CapacityParameters) float64 {
	return float64(volume) / (float64(p.NumWorkers) * ShiftHours * p.EfficiencyPerHour * p.SKUEfficiency)
}

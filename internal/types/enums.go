package types

// ShippingWindow is the recommended dispatch timing for a forecast day.
type ShippingWindow string

const (
	WindowNormal        ShippingWindow = "NORMAL"
	WindowOffPeak       ShippingWindow = "OFF_PEAK"
	WindowExtendedHours ShippingWindow = "EXTENDED_HOURS"
)

// DuplicatePolicy decides what happens when the historical series contains the
// same date more than once.
type DuplicatePolicy string

const (
	// DuplicateReject fails validation with a DuplicateDateError.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateSum aggregates the volumes of all rows sharing a date.
	DuplicateSum DuplicatePolicy = "sum"
)

// ForecasterMode selects the forecasting capability implementation.
type ForecasterMode string

const (
	ForecasterLinear ForecasterMode = "linear"
	ForecasterRemote ForecasterMode = "remote"
)

package collector

import "errors"

var (
	errMissingMetric = errors.New("collector result is missing a metric")
	errInvalidBounds = errors.New("invalid sampling bounds")
)

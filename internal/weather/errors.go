package weather

import "errors"

var (
	// ErrInvalidArgument is returned for out-of-range or malformed request parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProvider covers network failures, non-success HTTP statuses and open circuits.
	ErrProvider = errors.New("provider request failed")

	// ErrMalformedPayload is returned when the provider document is not a JSON object.
	ErrMalformedPayload = errors.New("malformed provider payload")

	// ErrTimestampParse is returned when the time axis cannot be parsed.
	ErrTimestampParse = errors.New("invalid timestamp in payload")

	// ErrNotFound is returned when no data is stored for a given location.
	ErrNotFound = errors.New("no weather data for location")
)

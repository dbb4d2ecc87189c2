package weather

import (
	"context"
	"time"
)

// Provider abstracts the remote hourly data source (Open-Meteo). It returns
// raw payloads; normalization happens in this package so schema drift is
// handled in one place.
type Provider interface {
	Name() string
	// FetchRecent returns the last pastHours plus the provider's forecast lead.
	FetchRecent(ctx context.Context, loc Location, pastHours int) ([]byte, error)
	// FetchArchive returns the inclusive date range [start, end].
	FetchArchive(ctx context.Context, loc Location, start, end time.Time) ([]byte, error)
	// Timezone resolves the IANA zone name of a location.
	Timezone(ctx context.Context, loc Location) (string, error)
}

// Store is the contract the observation stores (DuckDB and in-memory) satisfy.
// Implementations acquire and release storage resources per call.
type Store interface {
	// EnsureSchema creates the table and adds missing catalog columns. Idempotent.
	EnsureSchema(ctx context.Context) error
	// Upsert persists rows absent from the store and returns how many were added.
	Upsert(ctx context.Context, rows []Observation) (int, error)
	// Query returns all rows for a location ordered by timestamp ascending.
	Query(ctx context.Context, loc Location) ([]Observation, error)
	// LastTimestamp returns the newest stored timestamp, or ErrNotFound.
	LastTimestamp(ctx context.Context, loc Location) (time.Time, error)
	// Purge deletes rows for loc, or every row when loc is nil.
	Purge(ctx context.Context, loc *Location) (int, error)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/i474232898/weather-ingest/internal/logging"
	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	stagingTable = "weather_hourly_staging"
	freshTable   = "weather_hourly_fresh"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DuckDBConfig configures the DuckDB observation store.
type DuckDBConfig struct {
	// Path is the database file, or ":memory:".
	Path      string
	Schema    string
	Table     string
	Policy    weather.DedupPolicy
	Threads   int
	MaxMemory string
}

// DuckDB stores observations in a single DuckDB table. The *sql.DB handle is
// process-wide, but every operation acquires its own connection and releases
// it before returning.
type DuckDB struct {
	db     *sql.DB
	schema string
	table  string
	policy weather.DedupPolicy
}

var _ weather.Store = (*DuckDB)(nil)

// OpenDuckDB opens (creating if needed) the database at cfg.Path.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig) (*DuckDB, error) {
	if cfg.Schema == "" {
		cfg.Schema = "raw"
	}
	if cfg.Table == "" {
		cfg.Table = "weather_hourly"
	}
	if cfg.Policy == "" {
		cfg.Policy = weather.PolicyRow
	}
	if !identPattern.MatchString(cfg.Schema) || !identPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid schema or table name %q.%q", cfg.Schema, cfg.Table)
	}
	if cfg.Policy != weather.PolicyRow && cfg.Policy != weather.PolicyKey {
		return nil, fmt.Errorf("unknown dedup policy %q", cfg.Policy)
	}

	if cfg.Path != "" && cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("duckdb", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DuckDB{
		db:     conn,
		schema: cfg.Schema,
		table:  cfg.Table,
		policy: cfg.Policy,
	}, nil
}

func dsn(cfg DuckDBConfig) string {
	params := url.Values{}
	if cfg.Threads > 0 {
		params.Set("threads", strconv.Itoa(cfg.Threads))
	}
	if cfg.MaxMemory != "" {
		params.Set("max_memory", cfg.MaxMemory)
	}
	if len(params) == 0 {
		return cfg.Path
	}
	return cfg.Path + "?" + params.Encode()
}

// Close releases the database handle.
func (d *DuckDB) Close() error {
	return d.db.Close()
}

func (d *DuckDB) qualified() string {
	return d.schema + "." + d.table
}

// columns returns the full row layout in the order rows are compared.
func columns() []string {
	return append([]string{"ts", "latitude", "longitude"}, weather.VariableNames()...)
}

// withConn runs fn on a dedicated connection that is always released.
func (d *DuckDB) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer closeWithLog(conn, "connection")
	return fn(conn)
}

// EnsureSchema creates the schema and table if absent, then adds any catalog
// column the table lacks. Existing columns and rows are never altered.
func (d *DuckDB) EnsureSchema(ctx context.Context) error {
	return d.withConn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+d.schema); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", d.schema, err)
		}
		if _, err := conn.ExecContext(ctx, d.createTableSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", d.qualified(), err)
		}

		existing, err := d.existingColumns(ctx, conn)
		if err != nil {
			return err
		}

		for _, v := range weather.Variables {
			if existing[v.Name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.qualified(), v.Name, v.SQLType)
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to add column %s: %w", v.Name, err)
			}
			logging.Info().Str("table", d.qualified()).Str("column", v.Name).Msg("added column")
		}
		return nil
	})
}

func (d *DuckDB) createTableSQL() string {
	defs := []string{"ts TIMESTAMP", "latitude DOUBLE", "longitude DOUBLE"}
	for _, v := range weather.Variables {
		if v.Baseline {
			defs = append(defs, v.Name+" "+v.SQLType)
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.qualified(), strings.Join(defs, ",\n\t"))
}

func (d *DuckDB) existingColumns(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = ? AND table_name = ?`,
		d.schema, d.table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", d.qualified(), err)
	}
	defer closeQuietly(rows)

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Upsert stages rows in a temp table and inserts `staging EXCEPT stored`
// over every column inside one transaction. The returned count is the
// INSERT's own affected-row count, so it matches what was persisted.
func (d *DuckDB) Upsert(ctx context.Context, rows []weather.Observation) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logging.Warn().Err(err).Msg("failed to roll back upsert")
			}
		}()

		if err := d.stage(ctx, tx, rows); err != nil {
			return err
		}

		n, err := d.mergeStaged(ctx, tx)
		if err != nil {
			return err
		}

		for _, t := range []string{stagingTable, freshTable} {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
				return fmt.Errorf("failed to drop %s: %w", t, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit upsert: %w", err)
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (d *DuckDB) stage(ctx context.Context, tx *sql.Tx, rows []weather.Observation) error {
	cols := strings.Join(columns(), ", ")
	create := fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s AS SELECT %s FROM %s LIMIT 0",
		stagingTable, cols, d.qualified())
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns())), ", ")
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", stagingTable, cols, placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(r)...); err != nil {
			return fmt.Errorf("failed to stage row %s: %w", r.Timestamp.Format(time.RFC3339), err)
		}
	}
	return nil
}

func (d *DuckDB) mergeStaged(ctx context.Context, tx *sql.Tx) (int, error) {
	cols := strings.Join(columns(), ", ")
	diff := fmt.Sprintf("SELECT %s FROM %s EXCEPT SELECT %s FROM %s", cols, stagingTable, cols, d.qualified())

	var insert string
	switch d.policy {
	case weather.PolicyKey:
		fresh := fmt.Sprintf(
			"CREATE OR REPLACE TEMP TABLE %s AS SELECT DISTINCT ON (ts, latitude, longitude) * FROM (%s) ORDER BY ts, latitude, longitude",
			freshTable, diff)
		if _, err := tx.ExecContext(ctx, fresh); err != nil {
			return 0, fmt.Errorf("failed to compute new rows: %w", err)
		}
		del := fmt.Sprintf(
			"DELETE FROM %[1]s USING %[2]s WHERE %[1]s.ts = %[2]s.ts AND %[1]s.latitude = %[2]s.latitude AND %[1]s.longitude = %[2]s.longitude",
			d.qualified(), freshTable)
		if _, err := tx.ExecContext(ctx, del); err != nil {
			return 0, fmt.Errorf("failed to replace same-key rows: %w", err)
		}
		insert = fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d.qualified(), cols, cols, freshTable)
	default:
		insert = fmt.Sprintf("INSERT INTO %s (%s) %s", d.qualified(), cols, diff)
	}

	res, err := tx.ExecContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to insert new rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted row count: %w", err)
	}
	return int(n), nil
}

func rowArgs(r weather.Observation) []any {
	args := make([]any, 0, 3+len(weather.Variables))
	args = append(args, r.Timestamp.UTC(), r.Latitude, r.Longitude)
	for i, v := range weather.Variables {
		var val *float64
		if i < len(r.Values) {
			val = r.Values[i]
		}
		switch {
		case v.Kind == weather.Categorical && val != nil:
			args = append(args, sql.NullInt64{Int64: int64(math.Round(*val)), Valid: true})
		case val != nil:
			args = append(args, sql.NullFloat64{Float64: *val, Valid: true})
		default:
			args = append(args, nil)
		}
	}
	return args
}

const locationFilter = `round(latitude, 4) = round(?, 4) AND round(longitude, 4) = round(?, 4)`

// Query returns every row for the rounded location, oldest first.
func (d *DuckDB) Query(ctx context.Context, loc weather.Location) ([]weather.Observation, error) {
	selects := []string{"ts", "latitude", "longitude"}
	for _, name := range weather.VariableNames() {
		selects = append(selects, fmt.Sprintf("CAST(%s AS DOUBLE)", name))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY ts",
		strings.Join(selects, ", "), d.qualified(), locationFilter)

	var out []weather.Observation
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, loc.Latitude, loc.Longitude)
		if err != nil {
			return fmt.Errorf("failed to query observations: %w", err)
		}
		defer closeQuietly(rows)

		for rows.Next() {
			obs, err := scanObservation(rows)
			if err != nil {
				return err
			}
			out = append(out, obs)
		}
		return rows.Err()
	})
	return out, err
}

func scanObservation(rows *sql.Rows) (weather.Observation, error) {
	var obs weather.Observation
	vals := make([]sql.NullFloat64, len(weather.Variables))
	dest := []any{&obs.Timestamp, &obs.Latitude, &obs.Longitude}
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return obs, fmt.Errorf("failed to scan observation: %w", err)
	}

	obs.Timestamp = obs.Timestamp.UTC()
	obs.Values = make([]*float64, len(vals))
	for i, v := range vals {
		if v.Valid {
			f := v.Float64
			obs.Values[i] = &f
		}
	}
	return obs, nil
}

// LastTimestamp returns MAX(ts) for the rounded location.
func (d *DuckDB) LastTimestamp(ctx context.Context, loc weather.Location) (time.Time, error) {
	var last sql.NullTime
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		q := fmt.Sprintf("SELECT MAX(ts) FROM %s WHERE %s", d.qualified(), locationFilter)
		if err := conn.QueryRowContext(ctx, q, loc.Latitude, loc.Longitude).Scan(&last); err != nil {
			return fmt.Errorf("failed to query last timestamp: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, weather.ErrNotFound
	}
	return last.Time.UTC(), nil
}

// Purge deletes rows for the rounded location, or all rows when loc is nil.
// Only the observation table is touched.
func (d *DuckDB) Purge(ctx context.Context, loc *weather.Location) (int, error) {
	query := "DELETE FROM " + d.qualified()
	var args []any
	if loc != nil {
		query += " WHERE " + locationFilter
		args = append(args, loc.Latitude, loc.Longitude)
	}

	var n int64
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to purge observations: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read purged row count: %w", err)
		}
		return nil
	})
	return int(n), err
}

// closeQuietly closes a resource on paths where the Close error is not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs a failure.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("failed to close resource")
	}
}

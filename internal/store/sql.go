// Package store reads sensor samples from the readings database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"vitals-service/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const readingColumns = "ts, hr, rr, hrv, sv, str, rs, fft, bed_status"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type PostgresConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	ConnectTimeout time.Duration
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxLife    time.Duration
}

func (c PostgresConfig) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}
	timeout := int(c.ConnectTimeout / time.Second)
	if timeout <= 0 {
		timeout = 10
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, quoteDSN(c.Password), c.Name, sslmode, timeout)
}

func quoteDSN(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
	}
	return v
}

// SQLStore implements the sample reader over any sqlx-supported database
// holding the readings_vital table.
type SQLStore struct {
	db     *sqlx.DB
	target string
}

// NewPostgres connects to PostgreSQL. The connection is verified before
// returning.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.dsn())
	target := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", &ConnError{Target: target, Err: err})
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	return &SQLStore{db: db, target: target}, nil
}

// NewSQLite opens (and creates if needed) a SQLite database at path and
// applies the bundled schema. ":memory:" is accepted for tests.
func NewSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// An in-memory database lives as long as its single connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, target: path}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Target is the host:port (or file) the store reads from.
func (s *SQLStore) Target() string {
	return s.target
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ServerTime asks the database for its current time.
func (s *SQLStore) ServerTime(ctx context.Context) (string, error) {
	var now string
	if err := s.db.GetContext(ctx, &now, "SELECT CURRENT_TIMESTAMP"); err != nil {
		return "", err
	}
	return now, nil
}

// Columns lists the column names of the readings table.
func (s *SQLStore) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM readings_vital LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// Tables lists the user tables visible to the connection, sorted by name.
func (s *SQLStore) Tables(ctx context.Context) ([]string, error) {
	query := "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name"
	if s.db.DriverName() == "sqlite" {
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	}
	var tables []string
	if err := s.db.SelectContext(ctx, &tables, query); err != nil {
		return nil, err
	}
	return tables, nil
}

type readingRow struct {
	TS        time.Time       `db:"ts"`
	HR        sql.NullFloat64 `db:"hr"`
	RR        sql.NullFloat64 `db:"rr"`
	HRV       sql.NullFloat64 `db:"hrv"`
	SV        sql.NullFloat64 `db:"sv"`
	STR       sql.NullFloat64 `db:"str"`
	RS        sql.NullFloat64 `db:"rs"`
	FFT       sql.NullFloat64 `db:"fft"`
	BedStatus sql.NullInt64   `db:"bed_status"`
}

func (r readingRow) sample() models.Sample {
	s := models.Sample{Timestamp: r.TS.UTC(), Values: make(map[models.Field]float64, 2)}
	for f, v := range map[models.Field]sql.NullFloat64{
		models.FieldHR:  r.HR,
		models.FieldRR:  r.RR,
		models.FieldHRV: r.HRV,
		models.FieldSV:  r.SV,
		models.FieldSTR: r.STR,
		models.FieldRS:  r.RS,
	} {
		if v.Valid {
			s.Values[f] = v.Float64
		}
	}
	if r.FFT.Valid {
		v := r.FFT.Float64
		s.SignalStrength = &v
	}
	if r.BedStatus.Valid {
		b := models.BedStatus(r.BedStatus.Int64)
		s.BedStatus = &b
	}
	return s
}

func (s *SQLStore) selectSamples(ctx context.Context, query string, args ...any) ([]models.Sample, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Sample
	for rows.Next() {
		var r readingRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r.sample())
	}
	return out, rows.Err()
}

// FetchSince returns every sample with ts >= cutoff whose required fields
// are all non-null, in no particular order.
func (s *SQLStore) FetchSince(ctx context.Context, cutoff time.Time, required []models.Field) ([]models.Sample, error) {
	var b strings.Builder
	b.WriteString("SELECT " + readingColumns + " FROM readings_vital WHERE ts >= ?")
	for _, f := range required {
		if !knownField(f) {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		b.WriteString(" AND " + string(f) + " IS NOT NULL")
	}
	return s.selectSamples(ctx, b.String(), cutoff.UTC())
}

// Latest returns the newest limit samples, newest first.
func (s *SQLStore) Latest(ctx context.Context, limit int) ([]models.Sample, error) {
	return s.selectSamples(ctx,
		"SELECT "+readingColumns+" FROM readings_vital WHERE ts IS NOT NULL ORDER BY ts DESC LIMIT ?", limit)
}

// SensorReadings returns samples of one sensor with from <= ts < to, newest
// first.
func (s *SQLStore) SensorReadings(ctx context.Context, sensorID string, from, to time.Time) ([]models.Sample, error) {
	return s.selectSamples(ctx,
		"SELECT "+readingColumns+" FROM readings_vital WHERE sensor_id = ? AND ts >= ? AND ts < ? ORDER BY ts DESC",
		sensorID, from.UTC(), to.UTC())
}

const patientQuery = `
	SELECT p.id AS patient_id, p.first_name, p.last_name, s.id AS sensor_id
	FROM patients p
	LEFT JOIN sensors s ON p.id = s.patient_id`

func (s *SQLStore) Patients(ctx context.Context) ([]models.Patient, error) {
	var out []models.Patient
	if err := s.db.SelectContext(ctx, &out, patientQuery+" ORDER BY p.id"); err != nil {
		return nil, err
	}
	return out, nil
}

// Patient returns the patient with id, or nil when there is none.
func (s *SQLStore) Patient(ctx context.Context, id int64) (*models.Patient, error) {
	var out []models.Patient
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(patientQuery+" WHERE p.id = ?"), id); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// Insert writes samples for sensorID. Used to seed local databases.
func (s *SQLStore) Insert(ctx context.Context, sensorID string, samples ...models.Sample) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		"INSERT INTO readings_vital (sensor_id, "+readingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, nullString(sensorID), sm.Timestamp.UTC(),
			nullValue(sm, models.FieldHR), nullValue(sm, models.FieldRR),
			nullValue(sm, models.FieldHRV), nullValue(sm, models.FieldSV),
			nullValue(sm, models.FieldSTR), nullValue(sm, models.FieldRS),
			ptrValue(sm.SignalStrength), bedValue(sm.BedStatus),
		); err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
	}
	return tx.Commit()
}

// Exec runs a raw statement; tests use it to seed patients.
func (s *SQLStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

func knownField(f models.Field) bool {
	for _, k := range models.AllFields {
		if k == f {
			return true
		}
	}
	return false
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullValue(s models.Sample, f models.Field) sql.NullFloat64 {
	v, ok := s.Value(f)
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func ptrValue(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func bedValue(b *models.BedStatus) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*b), Valid: true}
}

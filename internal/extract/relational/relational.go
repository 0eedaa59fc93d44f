// Package relational implements the relational half of the Extractor
// contract: building the three deterministic query shapes, streaming rows
// via sqlx so a table larger than memory never materializes past
// batch_size records, and retrying Transient mid-stream disconnects
// locally before surfacing them.
//
// A small DB interface wraps *sqlx.DB, narrow enough that tests can
// substitute a fake without a real database.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	// Drivers register themselves with database/sql; only the stdlib
	// adapter is imported directly.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/datasnap-cloud/bridge/internal/extract"
	"github.com/datasnap-cloud/bridge/internal/mapping"
	"github.com/datasnap-cloud/bridge/internal/retry"
)

// DB is the narrow surface relational needs from *sqlx.DB, so tests can
// substitute an in-memory fake in place of a real connection.
type DB interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Opener opens a DB connection for a relational mapping, using the
// plaintext credential the caller already resolved via the SecretResolver.
type Opener func(ctx context.Context, m mapping.Mapping, plaintext string) (DB, error)

// Open is the default Opener, building a DSN for mysql or postgres and
// opening it through database/sql + sqlx.
func Open(ctx context.Context, m mapping.Mapping, plaintext string) (DB, error) {
	var driver, dsn string
	switch m.Source.Kind {
	case mapping.SourceMySQL:
		driver = "mysql"
		dsn = mysqlDSN(m, plaintext)
	case mapping.SourcePostgres:
		driver = "pgx"
		dsn = postgresDSN(m, plaintext)
	default:
		return nil, fmt.Errorf("relational.Open: unsupported source kind %q", m.Source.Kind)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Transfer.ConnectTimeoutSeconds)*time.Second)
	defer cancel()
	if err := db.PingContext(connectCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return db, nil
}

func mysqlDSN(m mapping.Mapping, password string) string {
	tlsParam := "false"
	if m.Source.SSLMode == mapping.SSLRequire || m.Source.SSLMode == mapping.SSLVerifyFull {
		tlsParam = "true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		m.Source.User, password, m.Source.Host, m.Source.Port, m.Source.DB, tlsParam)
}

func postgresDSN(m mapping.Mapping, password string) string {
	sslmode := "disable"
	switch m.Source.SSLMode {
	case mapping.SSLRequire:
		sslmode = "require"
	case mapping.SSLVerifyFull:
		sslmode = "verify-full"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		m.Source.User, password, m.Source.Host, m.Source.Port, m.Source.DB, sslmode)
}

// Extractor implements extract.Extractor over relational sources.
type Extractor struct {
	Open Opener
}

func New() *Extractor {
	return &Extractor{Open: Open}
}

// Stream implements the Extractor contract. It opens the connection, then
// returns a sequence that re-issues the bounded query one page at a time.
func (e *Extractor) Stream(ctx context.Context, m mapping.Mapping, watermark string, boundaryInclusive bool, secret string) (extract.Sequence, error) {
	opener := e.Open
	if opener == nil {
		opener = Open
	}

	db, err := opener(ctx, m, secret)
	if err != nil {
		return nil, fmt.Errorf("source unavailable: %w", err)
	}

	return &sequence{
		db:                db,
		mapping:           m,
		watermark:         watermark,
		boundaryInclusive: boundaryInclusive,
		batchSize:         m.Transfer.BatchSize,
		offset:            0,
	}, nil
}

type sequence struct {
	db      DB
	mapping mapping.Mapping

	watermark         string
	boundaryInclusive bool
	batchSize         int
	offset            int // used only for full-mode OFFSET paging

	fieldOrder []string // fixed from the first record of the run
	exhausted  bool
}

// buildQuery implements the three deterministic query shapes. If the
// mapping supplies an explicit query, :w and :n are substituted into it
// verbatim and correctness is the caller's responsibility.
func (s *sequence) buildQuery() (string, []any) {
	n := s.batchSize

	if s.mapping.Query != "" {
		q := strings.ReplaceAll(s.mapping.Query, ":w", "?")
		q = strings.ReplaceAll(q, ":n", "?")
		return q, []any{s.watermark, n}
	}

	table := s.mapping.Table
	switch s.mapping.Transfer.IncrementalMode {
	case mapping.ModeIncrementalPK:
		pk := s.mapping.PrimaryKey
		q := fmt.Sprintf("SELECT * FROM %s WHERE %s > ? ORDER BY %s ASC LIMIT ?", table, pk, pk)
		return q, []any{s.watermark, n}

	case mapping.ModeIncrementalTimestamp:
		ts := s.mapping.TimestampColumn
		op := ">"
		if s.boundaryInclusive {
			op = ">="
		}
		q := fmt.Sprintf("SELECT * FROM %s WHERE %s %s ? ORDER BY %s ASC LIMIT ?", table, ts, op, ts)
		return q, []any{s.watermark, n}

	default: // full
		orderBy := s.mapping.Transfer.OrderBy
		var q string
		if orderBy != "" {
			// Full mode pages with LIMIT/OFFSET, which is quadratic —
			// acceptable only here, because full scans have no natural
			// keyset to page by.
			q = fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ? OFFSET ?", table, orderBy)
		} else {
			q = fmt.Sprintf("SELECT * FROM %s LIMIT ? OFFSET ?", table)
		}
		return q, []any{n, s.offset}
	}
}

const maxStreamRetries = 3

// Next issues the next bounded page query and scans it into a Batch,
// retrying a Transient disconnect up to 3 times with 1/2/4 second backoff
// before surfacing it.
func (s *sequence) Next(ctx context.Context) (extract.Batch, error) {
	if s.exhausted {
		return extract.Batch{}, io.EOF
	}

	var rows *sqlx.Rows
	var err error
	query, args := s.buildQuery()

	for attempt := 0; attempt <= maxStreamRetries; attempt++ {
		rows, err = s.db.QueryxContext(ctx, query, args...)
		if err == nil {
			break
		}
		if attempt == maxStreamRetries {
			return extract.Batch{}, fmt.Errorf("query rejected or transient failure exhausted retries: %w", err)
		}
		if !retry.ExtractorBackoff(ctx, attempt) {
			return extract.Batch{}, ctx.Err()
		}
	}
	defer rows.Close()

	batch, err := s.scanRows(rows)
	if err != nil {
		return extract.Batch{}, fmt.Errorf("failed to scan rows: %w", err)
	}

	if len(batch.Records) == 0 {
		s.exhausted = true
		return extract.Batch{}, io.EOF
	}

	if len(batch.Records) < s.batchSize {
		// Short page: this is the last batch for incremental modes, and
		// for full mode with OFFSET paging it also means we've reached
		// the end (the next page would be empty).
		s.exhausted = true
	}

	s.offset += len(batch.Records)
	s.watermark = batch.TentativeWatermark
	s.boundaryInclusive = false

	return batch, nil
}

// scanRows converts sql rows into Records, fixing field order from the
// first record of the run and computing the tentative watermark as the max
// PK/timestamp value across the batch.
func (s *sequence) scanRows(rows *sqlx.Rows) (extract.Batch, error) {
	cols, err := rows.Columns()
	if err != nil {
		return extract.Batch{}, err
	}

	if s.fieldOrder == nil {
		s.fieldOrder = append([]string(nil), cols...)
	}

	var records []extract.Record
	lastWatermark := s.watermark

	for rows.Next() {
		raw := make(map[string]any, len(cols))
		if err := rows.MapScan(raw); err != nil {
			return extract.Batch{}, err
		}

		rec := make(extract.Record, len(s.fieldOrder))
		for _, field := range s.fieldOrder {
			rec[field] = normalizeValue(raw[field])
		}
		// Reconcile columns seen for the first time mid-run by nulling them
		// out for every prior and current record missing them.
		for _, col := range cols {
			if !contains(s.fieldOrder, col) {
				s.fieldOrder = append(s.fieldOrder, col)
				rec[col] = normalizeValue(raw[col])
			}
		}

		records = append(records, rec)

		// Rows arrive ORDER BY pk/timestamp ASC, so the last row scanned
		// carries the highest watermark value in the batch. Comparing
		// string encodings directly (as scanRows used to) is wrong for
		// numeric PKs: "99" > "200" lexicographically even though 99 < 200.
		if wm := s.watermarkFor(raw); wm != "" {
			lastWatermark = wm
		}
	}
	if err := rows.Err(); err != nil {
		return extract.Batch{}, err
	}

	return extract.Batch{
		Records:            records,
		FieldOrder:         append([]string(nil), s.fieldOrder...),
		TentativeWatermark: lastWatermark,
	}, nil
}

// watermarkFor extracts the column value this mapping's mode advances on.
func (s *sequence) watermarkFor(raw map[string]any) string {
	var col string
	switch s.mapping.Transfer.IncrementalMode {
	case mapping.ModeIncrementalPK:
		col = s.mapping.PrimaryKey
	case mapping.ModeIncrementalTimestamp:
		col = s.mapping.TimestampColumn
	default:
		return ""
	}
	v, ok := raw[col]
	if !ok {
		return ""
	}
	return stringifyWatermark(v)
}

func stringifyWatermark(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// normalizeValue converts driver-returned values ([]byte for many text
// columns) into JSON-friendly scalars.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case sql.NullString:
		if t.Valid {
			return t.String
		}
		return nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return t
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *sequence) Close() error {
	return s.db.Close()
}

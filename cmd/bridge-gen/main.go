// Package main generates local fixtures for exercising the sync engine
// without a real source: a Laravel-style log file, or a relational fixture
// (mapping JSON plus the generated row data as JSON). Nothing in the module
// reads the relational fixture back; the internal/testmock DB is scripted
// with sqlmock instead.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("bridge-gen", flag.ExitOnError)

	kind := fs.String("kind", "log_file", "fixture kind: log_file|relational")
	out := fs.String("out", "fixture", "output path (file for log_file, directory for relational)")
	count := fs.Int("count", 1000, "number of records/rows to generate")
	seed := fs.Int64("seed", 1, "random seed, for reproducible fixtures")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	r := rand.New(rand.NewSource(*seed))

	switch *kind {
	case "log_file":
		return generateLogFile(r, *out, *count)
	case "relational":
		return generateRelationalFixture(r, *out, *count)
	default:
		return fmt.Errorf("unknown fixture kind %q", *kind)
	}
}

var environments = []string{"production", "staging", "local"}
var levels = []string{"ERROR", "WARNING", "INFO", "DEBUG"}
var messages = []string{
	"Connection timed out while processing request",
	"Undefined index: user_id in UserController.php",
	"Queue job failed after 3 attempts",
	"Cache store [redis] is not available",
	"SQLSTATE[HY000]: General error: 2006 server has gone away",
}

// generateLogFile writes count Laravel-style log records to out, in the
// "[2024-01-02 15:04:05] production.ERROR: message" format logfile.Extractor
// parses.
func generateLogFile(r *rand.Rand, out string, count int) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		ts = ts.Add(time.Duration(r.Intn(60)) * time.Second)
		env := environments[r.Intn(len(environments))]
		level := levels[r.Intn(len(levels))]
		msg := messages[r.Intn(len(messages))]
		line := fmt.Sprintf("[%s] %s.%s: %s (record %d)\n", ts.Format("2006-01-02 15:04:05"), env, level, msg, i)
		if _, err := f.WriteString(line); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	fmt.Printf("wrote %d log records to %s\n", count, out)
	return nil
}

// relationalRow is one generated row, keyed by column name. Column order is
// fixed so the output is deterministic for a given seed.
type relationalRow map[string]any

// relationalFixture is the content of rows.json: the fixed column order plus
// the generated rows, one test table's worth of data.
type relationalFixture struct {
	Table   string          `json:"table"`
	Columns []string        `json:"columns"`
	Rows    []relationalRow `json:"rows"`
}

// generateRelationalFixture writes {out}/rows.json (the fixture a fake DB
// reads) and {out}/mapping.json (a ready-to-use incremental_pk mapping
// pointed at this fixture's table name).
func generateRelationalFixture(r *rand.Rand, out string, count int) error {
	if err := os.MkdirAll(out, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	columns := []string{"id", "email", "status", "created_at"}
	statuses := []string{"active", "pending", "cancelled"}

	rows := make([]relationalRow, 0, count)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= count; i++ {
		rows = append(rows, relationalRow{
			"id":         i,
			"email":      fmt.Sprintf("user%d@example.com", i),
			"status":     statuses[r.Intn(len(statuses))],
			"created_at": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		})
	}

	fixture := relationalFixture{Table: "customers", Columns: columns, Rows: rows}
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fixture: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out, "rows.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write rows.json: %w", err)
	}

	mappingDoc := map[string]any{
		"id":                 "customers",
		"target_schema_slug": "customers",
		"table":              "customers",
		"primary_key":        "id",
		"source": map[string]any{
			"kind":       "mysql",
			"host":       "127.0.0.1",
			"port":       3306,
			"db":         "app",
			"user":       "app",
			"secret_ref": "CUSTOMERS_DB_PASSWORD",
		},
		"transfer": map[string]any{
			"batch_size":             500,
			"max_file_size_mb":       64,
			"retry_attempts":         3,
			"min_records_for_upload": 1,
			"incremental_mode":       "incremental_pk",
		},
	}
	mappingData, err := json.MarshalIndent(mappingDoc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out, "mapping.json"), mappingData, 0644); err != nil {
		return fmt.Errorf("failed to write mapping.json: %w", err)
	}

	fmt.Printf("wrote %d rows and a mapping to %s\n", count, out)
	return nil
}

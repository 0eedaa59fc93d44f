package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/datasnap-cloud/bridge/internal/controlplane"
	"github.com/datasnap-cloud/bridge/internal/errs"
	"github.com/datasnap-cloud/bridge/internal/extract/logfile"
	"github.com/datasnap-cloud/bridge/internal/mapping"
	"github.com/datasnap-cloud/bridge/internal/metrics"
	"github.com/datasnap-cloud/bridge/internal/statestore"
	"github.com/datasnap-cloud/bridge/internal/testmock"
	"github.com/datasnap-cloud/bridge/internal/uploader"
)

func TestExitCodeEmptyReport(t *testing.T) {
	if code := (RunReport{}).ExitCode(); code != 4 {
		t.Errorf("ExitCode() = %d, want 4 for no mappings", code)
	}
}

func TestExitCodeAllSucceeded(t *testing.T) {
	r := RunReport{"orders": MappingOutcome{Status: Succeeded}}
	if code := r.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
}

func TestExitCodeCancelledTakesPriority(t *testing.T) {
	r := RunReport{
		"orders":    MappingOutcome{Status: Failed, ErrorKind: errs.Cancelled},
		"customers": MappingOutcome{Status: Succeeded},
	}
	if code := r.ExitCode(); code != 130 {
		t.Errorf("ExitCode() = %d, want 130", code)
	}
}

func TestExitCodeOtherFailure(t *testing.T) {
	r := RunReport{"orders": MappingOutcome{Status: Failed, ErrorKind: errs.QueryRejected}}
	if code := r.ExitCode(); code != 2 {
		t.Errorf("ExitCode() = %d, want 2", code)
	}
}

func TestSelectMappingsFiltersByOnly(t *testing.T) {
	mappings := []mapping.Mapping{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := selectMappings(mappings, map[string]bool{"b": true})
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("selectMappings = %+v, want only b", got)
	}
}

func TestSelectMappingsEmptyOnlyMeansAll(t *testing.T) {
	mappings := []mapping.Mapping{{ID: "a"}, {ID: "b"}}
	got := selectMappings(mappings, nil)
	if len(got) != 2 {
		t.Errorf("selectMappings with nil only = %+v, want all mappings", got)
	}
}

func logFileMapping(t *testing.T, dir string) mapping.Mapping {
	t.Helper()
	path := filepath.Join(dir, "app.log")
	body := "[2024-01-02 15:04:05] production.ERROR: boom\n[2024-01-02 15:05:00] production.INFO: ok\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write log fixture: %v", err)
	}
	return mapping.Mapping{
		ID:               "app-log",
		TargetSchemaSlug: "app_log_v1",
		Source:           mapping.Source{Kind: mapping.SourceLogFile, Path: path},
		Transfer:         mapping.TransferParams{BatchSize: 10},
	}
}

func TestRunSucceedsEndToEndForLogFileMapping(t *testing.T) {
	scratch := t.TempDir()
	logDir := t.TempDir()
	m := logFileMapping(t, logDir)

	cp := testmock.NewControlPlane()
	defer cp.Close()

	store := statestore.NewMemoryStore()
	up := uploader.New(controlplane.New(cp.Server.URL, "key"), metrics.New())
	r := New(store, nil, up, zerolog.Nop())

	opts := Options{ScratchDir: scratch, RunID: 1, Parallelism: 1}
	report := r.Run(context.Background(), []mapping.Mapping{m}, opts, logfile.New())

	outcome, ok := report["app-log"]
	if !ok {
		t.Fatalf("expected an outcome for app-log, got %+v", report)
	}
	if outcome.Status != Succeeded {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Records != 2 {
		t.Errorf("Records = %d, want 2", outcome.Records)
	}

	state, err := store.Load(context.Background(), "app-log")
	if err != nil {
		t.Fatalf("failed to load committed state: %v", err)
	}
	if state.Watermark == "" {
		t.Errorf("expected a committed watermark after a successful run")
	}
	if state.RecordsUploadedTotal != 2 {
		t.Errorf("RecordsUploadedTotal = %d, want 2", state.RecordsUploadedTotal)
	}
}

func TestRunDryRunDoesNotAdvanceWatermark(t *testing.T) {
	scratch := t.TempDir()
	logDir := t.TempDir()
	m := logFileMapping(t, logDir)

	cp := testmock.NewControlPlane()
	defer cp.Close()

	store := statestore.NewMemoryStore()
	up := uploader.New(controlplane.New(cp.Server.URL, "key"), metrics.New())
	r := New(store, nil, up, zerolog.Nop())

	opts := Options{ScratchDir: scratch, RunID: 1, Parallelism: 1, DryRun: true}
	report := r.Run(context.Background(), []mapping.Mapping{m}, opts, logfile.New())

	if report["app-log"].Status != Succeeded {
		t.Fatalf("expected success, got %+v", report["app-log"])
	}

	state, _ := store.Load(context.Background(), "app-log")
	if state.Watermark != "" {
		t.Errorf("expected watermark to remain unset after a dry run, got %q", state.Watermark)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("failed to read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected dry-run artifacts to be removed from scratch, found %d", len(entries))
	}
}

func TestRunReportsConfigInvalidForUnknownSourceKind(t *testing.T) {
	scratch := t.TempDir()
	m := mapping.Mapping{ID: "weird", Source: mapping.Source{Kind: mapping.SourceKind("ftp")}}

	store := statestore.NewMemoryStore()
	cp := testmock.NewControlPlane()
	defer cp.Close()
	up := uploader.New(controlplane.New(cp.Server.URL, "key"), metrics.New())
	r := New(store, nil, up, zerolog.Nop())

	opts := Options{ScratchDir: scratch, RunID: 1, Parallelism: 1}
	report := r.Run(context.Background(), []mapping.Mapping{m}, opts, logfile.New())

	outcome := report["weird"]
	if outcome.Status != Failed || outcome.ErrorKind != errs.ConfigInvalid {
		t.Errorf("expected ConfigInvalid failure, got %+v", outcome)
	}
}

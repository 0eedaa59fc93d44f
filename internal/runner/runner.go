// Package runner implements the Runner: it enumerates mappings, schedules
// them across a bounded worker pool, aggregates outcomes, and propagates
// cancellation — never letting a single mapping's failure abort the others.
//
// Uses a tasks/results channel pair plus a sync.WaitGroup and drain-on-cancel
// shape: one Mapping per task, MappingOutcome collected per task.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datasnap-cloud/bridge/internal/batchwriter"
	"github.com/datasnap-cloud/bridge/internal/errs"
	"github.com/datasnap-cloud/bridge/internal/extract"
	"github.com/datasnap-cloud/bridge/internal/extract/relational"
	"github.com/datasnap-cloud/bridge/internal/mapping"
	"github.com/datasnap-cloud/bridge/internal/metrics"
	"github.com/datasnap-cloud/bridge/internal/retry"
	"github.com/datasnap-cloud/bridge/internal/statestore"
	"github.com/datasnap-cloud/bridge/internal/uploader"
)

// Status is the closed variant of a mapping's final outcome.
type Status int

const (
	Succeeded Status = iota
	Skipped
	Failed
)

// MappingOutcome is the per-mapping result folded into a RunReport.
type MappingOutcome struct {
	Status Status

	// Succeeded / partial-progress fields
	Records  int64
	Batches  int64
	Bytes    int64
	Duration time.Duration

	// Skipped fields
	SkipReason string

	// Failed fields
	ErrorKind                    errs.Kind
	Message                      string
	RecordsUploadedBeforeFailure int64
}

// RunReport maps mapping id to its outcome.
type RunReport map[string]MappingOutcome

// ExitCode maps a RunReport to the process exit code: 0 if every mapping
// succeeded or was skipped, 4 if there were no mappings to run, 130 if any
// mapping was cancelled, 2 for any other failure.
func (r RunReport) ExitCode() int {
	if len(r) == 0 {
		return 4
	}
	code := 0
	for _, o := range r {
		if o.Status == Failed {
			if o.ErrorKind == errs.Cancelled {
				return 130
			}
			code = 2
		}
	}
	return code
}

// Options controls a single invocation of Run.
type Options struct {
	DryRun      bool
	Force       bool
	Parallelism int
	Only        map[string]bool // nil or empty means "all"
	ScratchDir  string
	RunID       int64
}

// Runner ties together the Extractor, BatchWriter, Uploader, and StateStore
// for every mapping in a run.
type Runner struct {
	Store          statestore.Store
	Secrets        mapping.SecretResolver
	Uploader       *uploader.Uploader
	Logger         zerolog.Logger
	RelationalOpen relational.Opener // nil uses relational.Open

	extractors map[mapping.SourceKind]extract.Extractor
}

func New(store statestore.Store, secrets mapping.SecretResolver, up *uploader.Uploader, logger zerolog.Logger) *Runner {
	return &Runner{
		Store:    store,
		Secrets:  secrets,
		Uploader: up,
		Logger:   logger,
	}
}

// extractorFor returns the Extractor for a source kind, constructing the
// relational one lazily so a RelationalOpen override takes effect.
func (r *Runner) extractorFor(kind mapping.SourceKind, logfileExtractor extract.Extractor) extract.Extractor {
	if r.extractors == nil {
		r.extractors = make(map[mapping.SourceKind]extract.Extractor)
	}
	if e, ok := r.extractors[kind]; ok {
		return e
	}

	var e extract.Extractor
	switch kind {
	case mapping.SourceMySQL, mapping.SourcePostgres:
		e = &relational.Extractor{Open: r.RelationalOpen}
	case mapping.SourceLogFile:
		e = logfileExtractor
	}
	r.extractors[kind] = e
	return e
}

// Run acquires a bounded pool of opts.Parallelism workers (default: number
// of mappings, capped at 8), dispatches each mapping as an independent
// task, and returns only after the last task terminates.
func (r *Runner) Run(ctx context.Context, mappings []mapping.Mapping, opts Options, logfileExtractor extract.Extractor) RunReport {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	selected := selectMappings(mappings, opts.Only)

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = len(selected)
	}
	if parallelism > 8 {
		parallelism = 8
	}
	if parallelism < 1 {
		parallelism = 1
	}

	tasks := make(chan mapping.Mapping)
	type result struct {
		id      string
		outcome MappingOutcome
	}
	results := make(chan result, len(selected))

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range tasks {
				outcome := r.runMapping(ctx, m, opts, logfileExtractor)
				results <- result{id: m.ID, outcome: outcome}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, m := range selected {
			select {
			case tasks <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	report := make(RunReport, len(selected))
	for {
		select {
		case res := <-results:
			report[res.id] = res.outcome
			if len(report) == len(selected) {
				return report
			}
		case <-done:
			for len(report) < len(selected) {
				select {
				case res := <-results:
					report[res.id] = res.outcome
				default:
					return report
				}
			}
			return report
		}
	}
}

func selectMappings(mappings []mapping.Mapping, only map[string]bool) []mapping.Mapping {
	if len(only) == 0 {
		return mappings
	}
	var out []mapping.Mapping
	for _, m := range mappings {
		if only[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// runMapping drives one mapping through resume -> extract -> write ->
// upload -> commit, sequentially, at most one batch in flight.
func (r *Runner) runMapping(ctx context.Context, m mapping.Mapping, opts Options, logfileExtractor extract.Extractor) MappingOutcome {
	start := time.Now()
	met := metrics.New()
	log := r.Logger.With().Str("mapping_id", m.ID).Logger()

	if opts.Force {
		if err := r.Store.Force(ctx, m.ID); err != nil {
			return failOutcome(errs.ConfigInvalid, fmt.Errorf("failed to force-reset state: %w", err), met, start)
		}
	}

	state, err := r.Store.Load(ctx, m.ID)
	if err != nil {
		return failOutcome(errs.StateCorrupt, err, met, start)
	}

	var secret string
	if m.Source.IsRelational() {
		if r.Secrets == nil {
			return failOutcome(errs.ConfigInvalid, fmt.Errorf("no secret resolver configured"), met, start)
		}
		secret, err = r.Secrets.Resolve(ctx, m.Source.SecretRef)
		if err != nil {
			return failOutcome(errs.ConfigInvalid, fmt.Errorf("failed to resolve credentials: %w", err), met, start)
		}
	}

	extractor := r.extractorFor(m.Source.Kind, logfileExtractor)
	if extractor == nil {
		return failOutcome(errs.ConfigInvalid, fmt.Errorf("no extractor registered for source kind %q", m.Source.Kind), met, start)
	}

	var seq extract.Sequence
	for attempt := 0; ; attempt++ {
		seq, err = extractor.Stream(ctx, m, state.Watermark, state.BoundaryInclusive, secret)
		if err == nil {
			break
		}
		if attempt >= 2 {
			state.LastError = errs.SourceUnavailable.String()
			_ = r.Store.Commit(ctx, m.ID, state)
			return failOutcome(errs.SourceUnavailable, err, met, start)
		}
		if !retry.SourceBackoff(ctx, attempt) {
			return failOutcome(errs.Cancelled, ctx.Err(), met, start)
		}
	}
	defer seq.Close()

	runID := opts.RunID
	writer := batchwriter.New(opts.ScratchDir, m.ID, runID, m.Transfer.MaxFileSizeMB)

	for {
		select {
		case <-ctx.Done():
			return cancelOutcome(met, start)
		default:
		}

		batch, err := seq.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			kind, _ := errs.KindOf(err)
			if kind == errs.Transient {
				kind = errs.QueryRejected
			}
			state.LastError = kind.String()
			_ = r.Store.Commit(ctx, m.ID, state)
			return failOutcome(kind, err, met, start)
		}

		met.RecordRead(len(batch.Records))
		met.RecordBatch()

		artifacts, err := writer.Write(batch)
		if err != nil {
			return failOutcome(errs.Transient, err, met, start)
		}
		met.RecordWritten(len(batch.Records))
		for _, a := range artifacts {
			met.RecordArtifact()
			met.RecordBytesOut(a.Size)
		}

		if opts.DryRun {
			// Dry-run never hands artifacts to the Uploader and the
			// watermark is never advanced.
			for _, a := range artifacts {
				_ = os.Remove(a.Path)
			}
			log.Info().Int("records", len(batch.Records)).Msg("dry-run batch processed")
			continue
		}

		res, err := r.Uploader.UploadBatch(ctx, m, artifacts, batch.TentativeWatermark)
		if err != nil {
			kind, _ := errs.KindOf(err)
			state.LastError = kind.String()
			_ = r.Store.Commit(ctx, m.ID, state)
			return failOutcome(kind, err, met, start)
		}
		if res.Skipped {
			log.Warn().Str("reason", res.SkipKind).Msg("batch skipped: low volume")
			continue
		}

		met.RecordUploaded(len(batch.Records))
		state.Watermark = batch.TentativeWatermark
		state.BoundaryInclusive = false
		state.LastRunID = runID
		state.RecordsUploadedTotal += int64(len(batch.Records))
		state.LastSuccessAt = time.Now().UTC()
		state.LastError = ""
		if err := r.Store.Commit(ctx, m.ID, state); err != nil {
			return failOutcome(errs.StateCorrupt, err, met, start)
		}

		if m.Transfer.DeleteAfterUpload {
			if err := r.deleteUploaded(ctx, m, batch); err != nil {
				log.Warn().Err(err).Msg("post-upload deletion failed")
			}
		}
	}

	snap := met.Snapshot()
	return MappingOutcome{
		Status:   Succeeded,
		Records:  snap.RecordsUploaded,
		Batches:  snap.Batches,
		Bytes:    snap.BytesOut,
		Duration: time.Since(start),
	}
}

// deleteUploaded implements post-upload deletion for relational mappings,
// scoped to the delete_safety.where_column values present in the batch's
// records. Non-relational sources are refused here; the mapping's
// incremental mode is not checked. relational.DeleteUploaded re-checks
// delete_safety.enabled.
func (r *Runner) deleteUploaded(ctx context.Context, m mapping.Mapping, batch extract.Batch) error {
	if m.Source.Kind != mapping.SourceMySQL && m.Source.Kind != mapping.SourcePostgres {
		return fmt.Errorf("delete_after_upload is only supported for relational sources")
	}

	col := m.Transfer.DeleteSafety.WhereColumn
	values := make([]any, 0, len(batch.Records))
	for _, rec := range batch.Records {
		if v, ok := rec[col]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}

	secret, err := r.Secrets.Resolve(ctx, m.Source.SecretRef)
	if err != nil {
		return fmt.Errorf("failed to resolve credentials for delete: %w", err)
	}

	open := r.RelationalOpen
	if open == nil {
		open = relational.Open
	}
	db, err := open(ctx, m, secret)
	if err != nil {
		return fmt.Errorf("failed to open connection for delete: %w", err)
	}
	defer db.Close()

	return relational.DeleteUploaded(ctx, db, m, values)
}

func failOutcome(kind errs.Kind, err error, met *metrics.Metrics, start time.Time) MappingOutcome {
	snap := met.Snapshot()
	return MappingOutcome{
		Status:                       Failed,
		ErrorKind:                    kind,
		Message:                      err.Error(),
		RecordsUploadedBeforeFailure: snap.RecordsUploaded,
		Duration:                     time.Since(start),
	}
}

func cancelOutcome(met *metrics.Metrics, start time.Time) MappingOutcome {
	snap := met.Snapshot()
	return MappingOutcome{
		Status:                       Failed,
		ErrorKind:                    errs.Cancelled,
		Message:                      "cancelled",
		RecordsUploadedBeforeFailure: snap.RecordsUploaded,
		Duration:                     time.Since(start),
	}
}

// Package extract defines the Extractor contract: a source connection that
// issues the incremental query bounded by the current watermark and yields
// records in batches, without ever holding more than batch_size records in
// memory at once.
package extract

import (
	"context"

	"github.com/datasnap-cloud/bridge/internal/mapping"
)

// Record is one row or log entry: a mapping from field name to JSON scalar
// or object.
type Record map[string]any

// Batch is an ordered, finite sequence of records sharing one field set.
// FieldOrder fixes the column order from the first record of the run so
// BatchWriter serialization is deterministic.
type Batch struct {
	Records    []Record
	FieldOrder []string
	// TentativeWatermark is the max PK/timestamp/byte-offset across this
	// batch. The Extractor never writes to the StateStore directly; the
	// caller commits this value once every artifact derived from the batch
	// has been acknowledged.
	TentativeWatermark string
}

// Sequence is a finite, non-restartable lazy sequence of batches. Next
// returns (Batch{}, io.EOF) once the source is exhausted.
type Sequence interface {
	Next(ctx context.Context) (Batch, error)
	Close() error
}

// Extractor opens a source connection and returns a Sequence bounded by
// watermark. boundaryInclusive distinguishes the first incremental_timestamp
// call after a --force reset (>=) from every subsequent call (>). secret is
// the plaintext credential already resolved by the caller via
// mapping.SecretResolver; log-file extractors ignore it.
type Extractor interface {
	Stream(ctx context.Context, m mapping.Mapping, watermark string, boundaryInclusive bool, secret string) (Sequence, error)
}

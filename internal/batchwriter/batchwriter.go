// Package batchwriter implements the BatchWriter: serializing a record
// batch to one or more gzip-compressed line-delimited JSON files on the
// scratch directory, splitting on a per-file size cap, with byte-identical
// output for a given input (modulo the gzip timestamp, which is zeroed).
//
// An artifact is exclusively owned by one writer from creation to handoff:
// internal/uploader becomes sole owner of it from there to deletion.
package batchwriter

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/datasnap-cloud/bridge/internal/extract"
)

// Artifact is one compressed line-delimited JSON file on the scratch
// directory, exclusively owned by the Uploader from creation to either
// successful deletion or failed retention.
type Artifact struct {
	Path        string
	MappingID   string
	RunID       int64
	Seq         int
	Size        int64 // uncompressed byte count written
	RecordCount int
}

// Writer is the BatchWriter for a single mapping's run.
type Writer struct {
	scratchDir   string
	mappingID    string
	runID        int64
	maxFileBytes int64
	seq          int
}

// New creates a BatchWriter for one mapping's run. maxFileSizeMB is the
// per-artifact uncompressed size cap. Whether artifacts are ultimately
// uploaded or discarded (dry_run) is the Runner's decision, made after
// Write returns.
func New(scratchDir, mappingID string, runID int64, maxFileSizeMB int) *Writer {
	maxBytes := int64(maxFileSizeMB) * 1048576
	if maxBytes <= 0 {
		maxBytes = 64 * 1048576
	}
	return &Writer{
		scratchDir:   scratchDir,
		mappingID:    mappingID,
		runID:        runID,
		maxFileBytes: maxBytes,
	}
}

// Write serializes batch to one or more artifacts, splitting whenever
// adding the next record would exceed max_file_size_mb. Each record is one
// line of canonical JSON, field order fixed by batch.FieldOrder.
func (w *Writer) Write(batch extract.Batch) ([]Artifact, error) {
	var artifacts []Artifact
	var current *artifactWriter

	for _, rec := range batch.Records {
		line, err := encodeRecord(rec, batch.FieldOrder)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}

		if current != nil && current.size+int64(len(line))+1 > w.maxFileBytes {
			a, err := current.close()
			if err != nil {
				return nil, err
			}
			artifacts = append(artifacts, a)
			current = nil
		}

		if current == nil {
			current, err = w.openArtifact()
			if err != nil {
				return nil, err
			}
		}

		if err := current.writeLine(line); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}

	if current != nil {
		a, err := current.close()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}

	// Dry-run still produces the file so size/record_count can be
	// reported; the Runner is responsible for never handing these
	// artifacts to the Uploader and deletes them once the batch is processed.
	return artifacts, nil
}

func (w *Writer) openArtifact() (*artifactWriter, error) {
	name := fmt.Sprintf("%s.%d.%d.jsonl.gz", w.mappingID, w.runID, w.seq)
	path := filepath.Join(w.scratchDir, name)
	w.seq++

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact %s: %w", path, err)
	}

	gz, _ := gzip.NewWriterLevel(f, gzip.BestSpeed)
	// Zero the gzip header's modification time so output is
	// byte-identical for identical input.
	gz.ModTime = zeroTime
	gz.Name = ""

	return &artifactWriter{
		file:      f,
		gz:        gz,
		path:      path,
		mappingID: w.mappingID,
		runID:     w.runID,
		seq:       w.seq - 1,
	}, nil
}

type artifactWriter struct {
	file *os.File
	gz   *gzip.Writer

	path      string
	mappingID string
	runID     int64
	seq       int

	size        int64
	recordCount int
}

func (aw *artifactWriter) writeLine(line []byte) error {
	if _, err := aw.gz.Write(line); err != nil {
		return err
	}
	if _, err := aw.gz.Write(newline); err != nil {
		return err
	}
	aw.size += int64(len(line)) + 1
	aw.recordCount++
	return nil
}

func (aw *artifactWriter) close() (Artifact, error) {
	if err := aw.gz.Close(); err != nil {
		aw.file.Close()
		return Artifact{}, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	if err := aw.file.Close(); err != nil {
		return Artifact{}, fmt.Errorf("failed to close artifact file: %w", err)
	}
	return Artifact{
		Path:        aw.path,
		MappingID:   aw.mappingID,
		RunID:       aw.runID,
		Seq:         aw.seq,
		Size:        aw.size,
		RecordCount: aw.recordCount,
	}, nil
}

var newline = []byte{'\n'}
var zeroTime time.Time

// encodeRecord writes rec as one line of canonical JSON, fixing key order
// to fieldOrder and injecting null for any field absent on this record.
func encodeRecord(rec extract.Record, fieldOrder []string) ([]byte, error) {
	ordered := make(map[string]any, len(fieldOrder))
	for _, f := range fieldOrder {
		v, ok := rec[f]
		if !ok {
			v = nil
		}
		ordered[f] = v
	}
	// goccy/go-json does not guarantee map key order either, so encode
	// via an explicit ordered buffer instead of relying on map iteration.
	return marshalOrdered(fieldOrder, ordered)
}

func marshalOrdered(fieldOrder []string, values map[string]any) ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = append(buf, '{')
	for i, f := range fieldOrder {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')

		valJSON, err := json.Marshal(values[f])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Package logfile implements the Laravel-style log extraction. A streaming
// parser reads the file in chunks bounded by max_memory_mb; the last
// (possibly incomplete) record in a chunk is held back and prefixed to the
// next chunk so no record is ever split.
//
// Uses a chunk-with-lookback read pattern: bounded chunks are read from a
// local os.File, a partial trailing record is held back, and prefixed to
// the next chunk so no record is ever split.
package logfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/datasnap-cloud/bridge/internal/extract"
	"github.com/datasnap-cloud/bridge/internal/mapping"
)

// headerPattern matches the start of a Laravel log record:
// "[2024-01-02 15:04:05] production.ERROR: ...".
var headerPattern = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] ([^.]+)\.([A-Z]+): `)

const defaultChunkBytes = 1 << 20 // 1 MiB reads, further bounded by max_memory_mb below

// Extractor implements extract.Extractor over Laravel-style log files.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Stream implements the Extractor contract. watermark is the byte offset
// just past the last fully emitted record, where the next read starts;
// secret is unused for log-file sources.
func (e *Extractor) Stream(ctx context.Context, m mapping.Mapping, watermark string, boundaryInclusive bool, secret string) (extract.Sequence, error) {
	f, err := os.Open(m.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("source unavailable: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source unavailable: %w", err)
	}

	offset, err := strconv.ParseInt(watermark, 10, 64)
	if err != nil {
		offset = 0
	}

	// Rotation detection. The inode-change half of this check needs a
	// durable record of the previously-seen inode, which the current
	// StateStore schema does not carry (see DESIGN.md); the size-decrease
	// half covers the concrete rotation scenario (a log truncated to size
	// 0 between runs) and is implemented here.
	if offset > info.Size() {
		offset = 0
	}

	chunkSize := defaultChunkBytes
	if m.Source.MaxMemoryMB > 0 && m.Source.MaxMemoryMB*(1<<20) < chunkSize {
		chunkSize = m.Source.MaxMemoryMB * (1 << 20)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	return &sequence{
		file:       f,
		batchSize:  m.Transfer.BatchSize,
		chunkSize:  chunkSize,
		readOffset: offset,
		lastOffset: offset,
	}, nil
}

type sequence struct {
	file       *os.File
	batchSize  int
	chunkSize  int
	readOffset int64  // absolute byte offset of the next read
	lastOffset int64  // byte offset just past the last fully-emitted record
	carry      []byte // partial trailing record held back from the previous chunk
	fieldOrder []string
	eof        bool
}

// Next reads chunks until it has accumulated batchSize records or hit EOF,
// holding back any trailing partial record across chunk boundaries so no
// record is ever split.
func (s *sequence) Next(ctx context.Context) (extract.Batch, error) {
	if s.eof && len(s.carry) == 0 {
		return extract.Batch{}, io.EOF
	}

	var records []extract.Record
	recordStartOffset := s.lastOffset

	for len(records) < s.batchSize {
		select {
		case <-ctx.Done():
			return extract.Batch{}, ctx.Err()
		default:
		}

		chunk := make([]byte, s.chunkSize)
		n, readErr := s.file.ReadAt(chunk, s.readOffset)
		chunk = chunk[:n]
		s.readOffset += int64(n)

		buf := append(s.carry, chunk...)
		s.carry = nil

		recs, rest, consumed := splitRecords(buf)
		_ = consumed

		// Cap emission at batchSize even when a single chunk yields more
		// complete records than that; anything beyond the cap is pushed
		// back into carry and re-split out of the next Next() call.
		room := s.batchSize - len(records)
		take := recs
		var leftover [][]byte
		if len(recs) > room {
			take = recs[:room]
			leftover = recs[room:]
		}

		for _, rec := range take {
			env, typ, ts, body := parseHeader(rec)
			records = append(records, extract.Record{
				"log_date":    ts,
				"environment": env,
				"type":        typ,
				"message":     body,
			})
			recordStartOffset += int64(len(rec))
		}

		var carryBuf []byte
		for _, rec := range leftover {
			carryBuf = append(carryBuf, rec...)
		}
		s.carry = append(carryBuf, rest...)

		if len(leftover) > 0 {
			// Hit the cap exactly; the leftover full records and any
			// trailing partial stay in carry for the next call.
			break
		}

		if readErr == io.EOF || n == 0 {
			s.eof = true
			if len(s.carry) > 0 && len(records) < s.batchSize {
				// Final partial record at true EOF with room to spare:
				// emit it as-is, since there is no further chunk to
				// complete it.
				env, typ, ts, body := parseHeader(s.carry)
				records = append(records, extract.Record{
					"log_date":    ts,
					"environment": env,
					"type":        typ,
					"message":     body,
				})
				recordStartOffset += int64(len(s.carry))
				s.carry = nil
			}
			break
		}
	}

	if len(records) == 0 {
		return extract.Batch{}, io.EOF
	}

	if s.fieldOrder == nil {
		s.fieldOrder = []string{"log_date", "environment", "type", "message"}
	}

	s.lastOffset = recordStartOffset

	return extract.Batch{
		Records:            records,
		FieldOrder:         s.fieldOrder,
		TentativeWatermark: strconv.FormatInt(s.lastOffset, 10),
	}, nil
}

// splitRecords splits buf into complete header-delimited records plus any
// trailing partial record, which the caller must prefix to the next chunk.
func splitRecords(buf []byte) (records [][]byte, trailing []byte, consumed int) {
	locs := headerPattern.FindAllIndex(buf, -1)
	if len(locs) == 0 {
		return nil, buf, 0
	}

	for i, loc := range locs {
		start := loc[0]
		var end int
		if i+1 < len(locs) {
			end = locs[i+1][0]
		} else {
			end = len(buf)
		}
		if i+1 < len(locs) {
			records = append(records, buf[start:end])
		} else {
			// Last match in this chunk: may be incomplete, held back.
			trailing = buf[start:end]
		}
	}
	return records, trailing, len(buf)
}

func parseHeader(rec []byte) (env, typ, ts, body string) {
	m := headerPattern.FindSubmatch(rec)
	if m == nil {
		return "", "", "", string(rec)
	}
	ts = string(m[1])
	env = string(m[2])
	typ = string(m[3])
	body = string(rec[len(m[0]):])
	return env, typ, ts, body
}

func (s *sequence) Close() error {
	return s.file.Close()
}

// Package uploader implements the three-phase upload protocol (token,
// object PUT, notify) as an explicit state machine (NeedToken -> HaveToken
// -> Uploading -> Uploaded -> Notifying -> Committed) so retry and
// idempotency reasoning stays local to one state transition at a time.
// Failed is declared but never entered: on an unrecoverable error put
// returns the error directly.
package uploader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/datasnap-cloud/bridge/internal/batchwriter"
	"github.com/datasnap-cloud/bridge/internal/controlplane"
	"github.com/datasnap-cloud/bridge/internal/errs"
	"github.com/datasnap-cloud/bridge/internal/mapping"
	"github.com/datasnap-cloud/bridge/internal/metrics"
)

// State is the upload state machine.
type State int

const (
	NeedToken State = iota
	HaveToken
	Uploading
	Uploaded
	Notifying
	Committed
	Failed
)

// Receipt is returned on a successful single-artifact upload.
type Receipt struct {
	RemoteURL   string
	ConfirmedAt time.Time
	Bytes       int64
}

// BatchResult is returned by UploadBatch, aggregating the receipts for
// every artifact belonging to one logical batch.
type BatchResult struct {
	Receipts []Receipt
	Skipped  bool
	SkipKind string // "low_volume" when Skipped
}

// Uploader ships artifacts to the control plane. Post-upload deletion of
// source rows is done by the Runner, not here.
type Uploader struct {
	Client  *controlplane.Client
	Metrics *metrics.Metrics
}

func New(client *controlplane.Client, m *metrics.Metrics) *Uploader {
	return &Uploader{Client: client, Metrics: m}
}

// UploadBatch enforces the min-records guard across every artifact
// belonging to one batch, then uploads each artifact end-to-end.
// watermarkAfter is the tentative watermark produced by the Extractor for
// this batch; it is sent as watermark_after in each notify-upload call.
// UploadBatch returns without error only once every artifact has been
// acknowledged, and each acknowledged artifact is removed from scratch; the
// caller commits the watermark after that.
func (u *Uploader) UploadBatch(ctx context.Context, m mapping.Mapping, artifacts []batchwriter.Artifact, watermarkAfter string) (BatchResult, error) {
	total := 0
	for _, a := range artifacts {
		total += a.RecordCount
	}

	if total < m.Transfer.MinRecordsForUpload {
		for _, a := range artifacts {
			_ = os.Remove(a.Path)
		}
		if u.Metrics != nil {
			u.Metrics.RecordSkippedLowVolume()
		}
		return BatchResult{Skipped: true, SkipKind: "low_volume"}, nil
	}

	var receipts []Receipt
	for _, a := range artifacts {
		r, err := u.put(ctx, a, m, watermarkAfter)
		if err != nil {
			return BatchResult{}, err
		}
		receipts = append(receipts, r)
		// Acknowledged: the artifact is no longer needed on scratch.
		_ = os.Remove(a.Path)
	}
	return BatchResult{Receipts: receipts}, nil
}

// put ships one artifact end-to-end through the state machine, retrying
// the whole token/upload/notify sequence on Transient failures with
// exponential backoff, up to retry_attempts.
func (u *Uploader) put(ctx context.Context, a batchwriter.Artifact, m mapping.Mapping, watermarkAfter string) (Receipt, error) {
	uploadID := newUploadID()
	var receipt Receipt

	attempt := func() error {
		state := NeedToken
		var tok controlplane.TokenResponse

		for state != Committed {
			select {
			case <-ctx.Done():
				return backoff.Permanent(errs.New(errs.Cancelled, "upload cancelled", ctx.Err()))
			default:
			}

			switch state {
			case NeedToken:
				info, err := os.Stat(a.Path)
				if err != nil {
					return backoff.Permanent(fmt.Errorf("artifact missing: %w", err))
				}
				t, err := u.Client.GenerateUploadToken(ctx, m.TargetSchemaSlug, controlplane.TokenRequest{
					Filename:      filepath.Base(a.Path),
					ContentLength: info.Size(),
					ContentType:   "application/x-ndjson",
					Encoding:      "gzip",
					UploadID:      uploadID,
				})
				if err != nil {
					return classify(err)
				}
				tok = t
				state = HaveToken

			case HaveToken:
				state = Uploading

			case Uploading:
				f, err := os.Open(a.Path)
				if err != nil {
					return backoff.Permanent(fmt.Errorf("failed to open artifact: %w", err))
				}
				info, _ := f.Stat()
				err = u.Client.PutObject(ctx, tok, f, info.Size())
				f.Close()
				if err != nil {
					return classify(err)
				}
				receipt = Receipt{RemoteURL: tok.UploadURL, Bytes: info.Size()}
				state = Uploaded

			case Uploaded:
				state = Notifying

			case Notifying:
				err := u.Client.NotifyUpload(ctx, m.TargetSchemaSlug, controlplane.NotifyRequest{
					UploadID:       uploadID,
					RecordCount:    a.RecordCount,
					Bytes:          receipt.Bytes,
					WatermarkAfter: watermarkAfter,
				})
				if err != nil {
					return classify(err)
				}
				receipt.ConfirmedAt = time.Now().UTC()
				state = Committed

			case Failed:
				return backoff.Permanent(fmt.Errorf("upload failed for %s", a.Path))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 1.0

	maxAttempts := m.Transfer.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	withMax := backoff.WithMaxRetries(bo, uint64(maxAttempts))

	notify := func(err error, d time.Duration) {
		if u.Metrics != nil {
			u.Metrics.RecordRetryAttempted()
		}
	}

	if err := backoff.RetryNotify(attempt, withMax, notify); err != nil {
		if u.Metrics != nil {
			u.Metrics.RecordRetryExhausted()
		}
		return Receipt{}, errs.New(errs.UploadFailed, fmt.Sprintf("upload exhausted retries for %s", a.Path), err)
	}
	return receipt, nil
}

// classify turns a raw error into a retryable or permanent backoff error
// based on its errs.Kind.
func classify(err error) error {
	kind, ok := errs.KindOf(err)
	if !ok {
		return err // unclassified: treat as retryable
	}
	switch kind {
	case errs.Transient:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func newUploadID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

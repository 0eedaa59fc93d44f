// Package reportstore uploads the end-of-run report to S3 when --report
// names an s3:// destination, the optional run-summary mirror of the
// sync engine's per-mapping outcomes.
package reportstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"

	"github.com/datasnap-cloud/bridge/internal/awsclient"
	"github.com/datasnap-cloud/bridge/internal/runner"
)

// Uploader uploads one run's RunReport as a JSON object to S3.
type Uploader struct {
	client awsclient.S3Client
	bucket string
	key    string
}

// NewUploader parses an s3://bucket/key URI naming the report destination.
func NewUploader(client awsclient.S3Client, uri string) (*Uploader, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid report S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("report S3 URI must use s3 scheme, got %q", u.Scheme)
	}
	return &Uploader{
		client: client,
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// reportDoc is the persisted shape of one run's summary.
type reportDoc struct {
	RunID      int64                            `json:"run_id"`
	FinishedAt time.Time                        `json:"finished_at"`
	ExitCode   int                              `json:"exit_code"`
	Mappings   map[string]runner.MappingOutcome `json:"mappings"`
}

// Upload encodes report as JSON and puts it at the configured key.
func (u *Uploader) Upload(ctx context.Context, runID int64, report runner.RunReport) error {
	doc := reportDoc{
		RunID:      runID,
		FinishedAt: time.Now().UTC(),
		ExitCode:   report.ExitCode(),
		Mappings:   report,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &u.bucket,
		Key:    &u.key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}

package reportstore

import (
	"context"
	"errors"
	"io"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/datasnap-cloud/bridge/internal/errs"
	"github.com/datasnap-cloud/bridge/internal/runner"
)

type fakeS3 struct {
	lastBucket string
	lastKey    string
	lastBody   []byte
	putErr     error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.lastBucket = *params.Bucket
	f.lastKey = *params.Key
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.lastBody = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("not implemented")
}

func TestNewUploaderParsesURI(t *testing.T) {
	u, err := NewUploader(&fakeS3{}, "s3://reports-bucket/runs/summary.json")
	if err != nil {
		t.Fatalf("NewUploader failed: %v", err)
	}
	if u.bucket != "reports-bucket" || u.key != "runs/summary.json" {
		t.Errorf("parsed bucket/key = %q/%q", u.bucket, u.key)
	}
}

func TestNewUploaderRejectsNonS3Scheme(t *testing.T) {
	if _, err := NewUploader(&fakeS3{}, "https://example.com/report.json"); err == nil {
		t.Fatalf("expected an error for a non-s3 URI")
	}
}

func TestUploadEncodesReportAsJSON(t *testing.T) {
	client := &fakeS3{}
	u, err := NewUploader(client, "s3://reports-bucket/runs/1.json")
	if err != nil {
		t.Fatalf("NewUploader failed: %v", err)
	}

	report := runner.RunReport{
		"orders": runner.MappingOutcome{Status: runner.Succeeded, Records: 10},
	}
	if err := u.Upload(context.Background(), 1, report); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if client.lastBucket != "reports-bucket" || client.lastKey != "runs/1.json" {
		t.Errorf("unexpected PutObject destination: %s/%s", client.lastBucket, client.lastKey)
	}

	var doc reportDoc
	if err := json.Unmarshal(client.lastBody, &doc); err != nil {
		t.Fatalf("failed to decode uploaded body: %v", err)
	}
	if doc.RunID != 1 || doc.ExitCode != 0 {
		t.Errorf("decoded doc = %+v", doc)
	}
	if doc.Mappings["orders"].Records != 10 {
		t.Errorf("decoded mapping outcome = %+v", doc.Mappings["orders"])
	}
}

func TestUploadPropagatesPutObjectError(t *testing.T) {
	client := &fakeS3{putErr: errs.New(errs.Transient, "s3 unavailable", nil)}
	u, _ := NewUploader(client, "s3://reports-bucket/runs/1.json")

	if err := u.Upload(context.Background(), 1, runner.RunReport{}); err == nil {
		t.Fatalf("expected Upload to propagate the PutObject error")
	}
}

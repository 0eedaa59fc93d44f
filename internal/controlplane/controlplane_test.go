package controlplane

import (
	"bytes"
	"context"
	"testing"

	"github.com/datasnap-cloud/bridge/internal/errs"
	"github.com/datasnap-cloud/bridge/internal/testmock"
)

func TestGenerateUploadTokenAndPutObject(t *testing.T) {
	cp := testmock.NewControlPlane()
	defer cp.Close()

	client := New(cp.Server.URL, "test-key")

	tok, err := client.GenerateUploadToken(context.Background(), "orders_v1", TokenRequest{
		Filename:      "orders.1.0.jsonl.gz",
		ContentLength: 11,
		UploadID:      "upload-1",
	})
	if err != nil {
		t.Fatalf("GenerateUploadToken failed: %v", err)
	}
	if tok.UploadURL == "" {
		t.Fatalf("expected a non-empty upload URL")
	}

	body := []byte("hello world")
	if err := client.PutObject(context.Background(), tok, bytes.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	got, ok := cp.UploadedObject("upload-1")
	if !ok {
		t.Fatalf("expected the control plane to have recorded the uploaded object")
	}
	if string(got) != string(body) {
		t.Errorf("uploaded body = %q, want %q", got, body)
	}
}

func TestGenerateUploadTokenRetriableFailure(t *testing.T) {
	cp := testmock.NewControlPlane()
	defer cp.Close()
	cp.FailTokenOnce = true

	client := New(cp.Server.URL, "test-key")
	_, err := client.GenerateUploadToken(context.Background(), "orders_v1", TokenRequest{UploadID: "upload-2"})
	if err == nil {
		t.Fatalf("expected an error for the failing token call")
	}
}

func TestNotifyUploadSendsRecordedBody(t *testing.T) {
	cp := testmock.NewControlPlane()
	defer cp.Close()

	client := New(cp.Server.URL, "test-key")
	err := client.NotifyUpload(context.Background(), "orders_v1", NotifyRequest{
		UploadID:       "upload-3",
		RecordCount:    42,
		WatermarkAfter: "100",
	})
	if err != nil {
		t.Fatalf("NotifyUpload failed: %v", err)
	}

	notes := cp.Notifications()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	if notes[0]["upload_id"] != "upload-3" {
		t.Errorf("upload_id = %v, want upload-3", notes[0]["upload_id"])
	}
}

func TestNotifyUploadTreats404AsSuccess(t *testing.T) {
	cp := testmock.NewControlPlane()
	defer cp.Close()
	cp.NotifyNotFound = true

	client := New(cp.Server.URL, "test-key")
	err := client.NotifyUpload(context.Background(), "orders_v1", NotifyRequest{UploadID: "upload-4"})
	if err != nil {
		t.Errorf("expected a 404 from notify-upload to be treated as success, got: %v", err)
	}
}

func TestClassifyStatusIsTransient(t *testing.T) {
	err := classifyStatus(500, "object upload")
	kind, ok := errs.KindOf(err)
	if !ok || kind != errs.Transient {
		t.Errorf("expected a Transient classification, got kind=%v ok=%v", kind, ok)
	}
}

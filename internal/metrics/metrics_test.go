package metrics

import "testing"

func TestRecordAndSnapshot(t *testing.T) {
	m := New()
	m.RecordRead(10)
	m.RecordWritten(8)
	m.RecordUploaded(8)
	m.RecordBytesOut(2048)
	m.RecordBatch()
	m.RecordArtifact()
	m.RecordRetryAttempted()
	m.RecordRetryExhausted()
	m.RecordSkippedLowVolume()

	snap := m.Snapshot()
	if snap.RecordsRead != 10 {
		t.Errorf("RecordsRead = %d, want 10", snap.RecordsRead)
	}
	if snap.RecordsWritten != 8 {
		t.Errorf("RecordsWritten = %d, want 8", snap.RecordsWritten)
	}
	if snap.RecordsUploaded != 8 {
		t.Errorf("RecordsUploaded = %d, want 8", snap.RecordsUploaded)
	}
	if snap.BytesOut != 2048 {
		t.Errorf("BytesOut = %d, want 2048", snap.BytesOut)
	}
	if snap.Batches != 1 || snap.Artifacts != 1 {
		t.Errorf("Batches/Artifacts = %d/%d, want 1/1", snap.Batches, snap.Artifacts)
	}
	if snap.RetriesAttempted != 1 || snap.RetriesExhausted != 1 {
		t.Errorf("RetriesAttempted/RetriesExhausted = %d/%d, want 1/1", snap.RetriesAttempted, snap.RetriesExhausted)
	}
	if snap.SkippedLowVolume != 1 {
		t.Errorf("SkippedLowVolume = %d, want 1", snap.SkippedLowVolume)
	}
}

func TestAggregateSumsCountersAndTakesMaxDuration(t *testing.T) {
	a := Snapshot{RecordsRead: 5, BytesOut: 100, Duration: 1}
	b := Snapshot{RecordsRead: 7, BytesOut: 200, Duration: 9}

	out := Aggregate([]Snapshot{a, b})
	if out.RecordsRead != 12 {
		t.Errorf("RecordsRead = %d, want 12", out.RecordsRead)
	}
	if out.BytesOut != 300 {
		t.Errorf("BytesOut = %d, want 300", out.BytesOut)
	}
	if out.Duration != 9 {
		t.Errorf("Duration = %v, want the max of the two (9)", out.Duration)
	}
}

func TestAggregateEmpty(t *testing.T) {
	out := Aggregate(nil)
	if out.RecordsRead != 0 || out.Duration != 0 {
		t.Errorf("expected zero-value aggregate, got %+v", out)
	}
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockStore records all batches that were inserted.
type mockStore struct {
	mu       sync.Mutex
	batches  [][]ChargeRecord
	insertFn func(ctx context.Context, recs []ChargeRecord) error
}

func (m *mockStore) BatchInsert(ctx context.Context, recs []ChargeRecord) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, recs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ChargeRecord, len(recs))
	copy(cp, recs)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *mockStore) totalInserted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func sampleCharge(mode string) ChargeRecord {
	return ChargeRecord{
		ID:               "charge-1",
		AccountID:        "acct-1",
		ModelID:          "acme/medium",
		Mode:             mode,
		Sparks:           2.001,
		CostUSD:          0.002,
		PromptTokens:     1000,
		CompletionTokens: 500,
		CreatedAt:        time.Now(),
	}
}

func TestCollectorRecordBuffers(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, 100, time.Hour)

	c.Record(sampleCharge("standard"))
	c.Record(sampleCharge("multi"))

	c.mu.Lock()
	bufLen := len(c.buffer)
	c.mu.Unlock()

	if bufLen != 2 {
		t.Fatalf("expected buffer length 2, got %d", bufLen)
	}
	if ms.totalInserted() != 0 {
		t.Fatalf("expected 0 inserted before flush, got %d", ms.totalInserted())
	}
}

func TestCollectorFlushOnBatchSize(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		records   int
		wantFlush int
	}{
		{name: "exact batch size triggers flush", batchSize: 3, records: 3, wantFlush: 3},
		{name: "under batch size does not flush", batchSize: 5, records: 3, wantFlush: 0},
		{name: "double batch size triggers two flushes", batchSize: 2, records: 4, wantFlush: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := &mockStore{}
			c := NewCollector(ms, tt.batchSize, time.Hour)

			for i := 0; i < tt.records; i++ {
				c.Record(sampleCharge("standard"))
			}

			time.Sleep(50 * time.Millisecond)

			if got := ms.totalInserted(); got != tt.wantFlush {
				t.Errorf("expected %d flushed records, got %d", tt.wantFlush, got)
			}
		})
	}
}

func TestCollectorStopFinalFlush(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, 100, time.Hour)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	c.Record(sampleCharge("summary"))
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if ms.totalInserted() != 1 {
		t.Fatalf("expected 1 record after final flush, got %d", ms.totalInserted())
	}
}

func TestCollectorInsertErrorDropsBatch(t *testing.T) {
	calls := 0
	ms := &mockStore{insertFn: func(ctx context.Context, recs []ChargeRecord) error {
		calls++
		return errors.New("db down")
	}}
	c := NewCollector(ms, 1, time.Hour)

	c.Record(sampleCharge("standard"))
	c.Record(sampleCharge("standard"))
	time.Sleep(50 * time.Millisecond)

	// Each record triggers its own flush attempt; a failed batch is not
	// retried.
	if calls != 2 {
		t.Errorf("insert attempts = %d, want 2", calls)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	adslog "github.com/nao1215/adsweep/internal/log"
	"github.com/nao1215/adsweep/internal/model"
)

func TestBatchProcessorNew(t *testing.T) {
	t.Parallel()

	t.Run("default concurrency", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(nil)
		if bp.concurrency != 4 {
			t.Errorf("expected concurrency 4, got %d", bp.concurrency)
		}
		if bp.logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("options", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(nil, WithConcurrency(2), WithBatchLogger(adslog.Discard()))
		if bp.concurrency != 2 {
			t.Errorf("expected concurrency 2, got %d", bp.concurrency)
		}
	})

	t.Run("non-positive concurrency keeps the default", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(nil, WithConcurrency(0))
		if bp.concurrency != 4 {
			t.Errorf("expected concurrency 4, got %d", bp.concurrency)
		}
	})
}

func TestBatchProcessorProcessBatch(t *testing.T) {
	t.Parallel()

	t.Run("results keep input order", func(t *testing.T) {
		t.Parallel()

		scan := func(_ context.Context, input string) (*model.ScanResult, error) {
			// Later inputs finish first.
			if input == "a" {
				time.Sleep(20 * time.Millisecond)
			}
			return &model.ScanResult{Address: input, Found: len(input)}, nil
		}
		bp := NewBatchProcessor(scan, WithBatchLogger(adslog.Discard()))

		results, err := bp.ProcessBatch(context.Background(), []string{"a", "bb", "ccc"})
		if err != nil {
			t.Fatal(err)
		}
		for i, want := range []string{"a", "bb", "ccc"} {
			if results[i].Address != want || results[i].Found != len(want) {
				t.Errorf("result %d: expected %s, got %+v", i, want, results[i])
			}
		}
	})

	t.Run("failures are carried in results", func(t *testing.T) {
		t.Parallel()

		scan := func(_ context.Context, input string) (*model.ScanResult, error) {
			switch input {
			case "missing":
				return nil, errors.New("no such file")
			case "partial":
				return &model.ScanResult{Address: input, Found: 1}, errors.New("render failed")
			}
			return &model.ScanResult{Address: input}, nil
		}
		bp := NewBatchProcessor(scan, WithBatchLogger(adslog.Discard()))

		results, err := bp.ProcessBatch(context.Background(), []string{"ok", "missing", "partial"})
		if err != nil {
			t.Fatalf("expected per-input failures not to fail the batch, got %v", err)
		}
		if results[0].Error != "" {
			t.Errorf("expected no error for ok, got %q", results[0].Error)
		}
		if results[1].Address != "missing" || results[1].Error != "no such file" || results[1].StartedAt.IsZero() {
			t.Errorf("unexpected failed result %+v", results[1])
		}
		if results[2].Found != 1 || results[2].Error != "render failed" {
			t.Errorf("expected the partial result to be kept, got %+v", results[2])
		}
	})

	t.Run("respects the concurrency limit", func(t *testing.T) {
		t.Parallel()

		var running, peak atomic.Int32
		scan := func(_ context.Context, input string) (*model.ScanResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return &model.ScanResult{Address: input}, nil
		}
		bp := NewBatchProcessor(scan, WithConcurrency(2), WithBatchLogger(adslog.Discard()))

		inputs := make([]string, 8)
		for i := range inputs {
			inputs[i] = fmt.Sprintf("page-%d", i)
		}
		if _, err := bp.ProcessBatch(context.Background(), inputs); err != nil {
			t.Fatal(err)
		}
		if got := peak.Load(); got > 2 {
			t.Errorf("expected at most 2 concurrent scans, got %d", got)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var calls atomic.Int32
		scan := func(_ context.Context, input string) (*model.ScanResult, error) {
			calls.Add(1)
			return &model.ScanResult{Address: input}, nil
		}
		bp := NewBatchProcessor(scan, WithBatchLogger(adslog.Discard()))

		results, err := bp.ProcessBatch(ctx, []string{"a", "b"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no scans, got %d", calls.Load())
		}
		if len(results) != 2 || results[0] != nil {
			t.Errorf("expected empty slots for skipped inputs, got %v", results)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(nil, WithBatchLogger(adslog.Discard()))
		results, err := bp.ProcessBatch(context.Background(), nil)
		if err != nil || len(results) != 0 {
			t.Errorf("expected no results, got %v (%v)", results, err)
		}
	})
}

func TestBatchProcessorProcessBatchWithCallback(t *testing.T) {
	t.Parallel()

	scan := func(_ context.Context, input string) (*model.ScanResult, error) {
		if input == "bad" {
			return nil, errors.New("boom")
		}
		return &model.ScanResult{Address: input}, nil
	}
	bp := NewBatchProcessor(scan, WithBatchLogger(adslog.Discard()))

	var mu sync.Mutex
	seen := make(map[int]string)
	err := bp.ProcessBatchWithCallback(context.Background(), []string{"a", "bad", "c"}, func(r *model.ScanResult, i int) {
		mu.Lock()
		defer mu.Unlock()
		seen[i] = r.Address + "|" + r.Error
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[int]string{0: "a|", 1: "bad|boom", 2: "c|"}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("index %d: expected %q, got %q", i, w, seen[i])
		}
	}
}

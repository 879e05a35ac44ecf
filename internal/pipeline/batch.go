package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/adsweep/internal/model"
	"golang.org/x/sync/errgroup"
)

// ScanFunc scans one input, typically a snapshot file, in its own session.
type ScanFunc func(ctx context.Context, input string) (*model.ScanResult, error)

// BatchProcessor scans independent inputs concurrently.
// Each input is its own page with its own session, so concurrent scans never
// share a document.
type BatchProcessor struct {
	scan        ScanFunc
	concurrency int
	logger      *slog.Logger

	results []*model.ScanResult
	mu      sync.Mutex
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent scans.
// Default is 4 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a BatchProcessor around scan.
func NewBatchProcessor(scan ScanFunc, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		scan:        scan,
		concurrency: 4,
		results:     make([]*model.ScanResult, 0),
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch scans every input and returns results in input order.
// A failed input yields a result carrying its error and does not stop the
// others; the returned error is only set on cancellation.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, inputs []string) ([]*model.ScanResult, error) {
	bp.logger.Info("starting batch scan",
		"total_inputs", len(inputs),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	bp.results = make([]*model.ScanResult, len(inputs))
	err := bp.run(ctx, inputs, func(result *model.ScanResult, i int) {
		bp.mu.Lock()
		bp.results[i] = result
		bp.mu.Unlock()
	})

	bp.logger.Info("batch scan complete",
		"total_inputs", len(inputs),
		"elapsed", time.Since(startTime),
	)
	return bp.results, err
}

// ProcessBatchWithCallback scans every input and calls callback as each
// completes. The callback runs on the scanning goroutine.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	inputs []string,
	callback func(result *model.ScanResult, index int),
) error {
	return bp.run(ctx, inputs, callback)
}

func (bp *BatchProcessor) run(ctx context.Context, inputs []string, done func(*model.ScanResult, int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, input := range inputs {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bp.logger.Debug("scanning input",
				"input", input,
				"index", i+1,
				"total", len(inputs),
			)

			started := time.Now()
			result, err := bp.scan(ctx, input)
			if err != nil {
				bp.logger.Warn("scan failed", "input", input, "error", err)
				if result == nil {
					result = &model.ScanResult{Address: input, StartedAt: started}
				}
				result.Error = err.Error()
			}
			done(result, i)
			// Failures stay in the result so other inputs keep going.
			return nil
		})
	}
	return g.Wait()
}

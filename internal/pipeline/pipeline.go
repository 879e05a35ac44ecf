package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/adsweep/internal/model"
)

// Step is one scan phase.
type Step interface {
	// Do runs the phase against the pass. A returned error stops the scan
	// unless the pipeline continues on error.
	Do(ctx context.Context, pass *model.ScanPass) error

	// Name returns the phase name for logging.
	Name() string
}

// Pipeline executes steps in the order they were added.
//
// Design decision: We model a scan as a list of small steps sharing one
// ScanPass rather than one long function because:
//  1. Each phase can be tested against a hand-built pass
//  2. Step names give every log line and error a phase to point at
//  3. Batch runs and watch sessions assemble the same steps differently
type Pipeline struct {
	// steps run in insertion order.
	steps []Step

	logger *slog.Logger

	// continueOnError keeps later steps running after one fails.
	// The first error is still returned from Execute.
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps running later steps after one fails.
// The first error is still returned.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends several steps.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs every step in sequence. Cancellation is checked between
// steps, never inside one, so a phase always leaves the tree consistent.
func (p *Pipeline) Execute(ctx context.Context, pass *model.ScanPass) error {
	var firstErr error
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("scan cancelled",
				"step", step.Name(),
				"reason", ctx.Err(),
			)
			return ctx.Err()
		default:
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"address", pass.Address,
		)

		if err := step.Do(ctx, pass); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"address", pass.Address,
				"error", err,
			)
			if !p.continueOnError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pass.Phases = append(pass.Phases, step.Name())
	}
	return firstErr
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}

package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/simple-batch-runtime/pkg/chain"
	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/promise"
	"github.com/jdziat/simple-batch-runtime/pkg/security"
)

// StillRunningComment is stored on async steps whose promise had not
// completed when the execution was saved.
const StillRunningComment = "still running when the execution was saved"

// Store persists a finished execution.
type Store interface {
	SaveExecution(ctx context.Context, job *core.JobExecution, steps []core.StepExecution) error
}

type pendingStep struct {
	name       string
	started    time.Time
	previousID *string
}

// Tracer records one chain run. It is not reusable across runs.
type Tracer struct {
	store  Store
	cfg    Config
	tracer trace.Tracer

	saved atomic.Bool

	mu           sync.Mutex
	job          core.JobExecution
	steps        []core.StepExecution
	pending      map[string]pendingStep
	pendingOrder []string
	lastID       string
	sealed       bool
}

// New creates a tracer for a job named name.
func New(name string, store Store, opts ...Option) (*Tracer, error) {
	if err := security.ValidateBatchName(name); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("tracing: nil store")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.applyTracer(&cfg)
	}

	return &Tracer{
		store:   store,
		cfg:     cfg,
		tracer:  cfg.TracerProvider.Tracer("github.com/jdziat/simple-batch-runtime/pkg/tracing"),
		job:     core.JobExecution{ID: uuid.New().String(), Name: name},
		pending: make(map[string]pendingStep),
	}, nil
}

// RunOptions returns the chain options tracing a run.
func (t *Tracer) RunOptions() []chain.RunOption {
	return []chain.RunOption{
		chain.WithStepWrapper(t.TraceStep),
		chain.WithExecutionWrapper(t.TraceExecution),
	}
}

// JobID returns the id of the traced job.
func (t *Tracer) JobID() string {
	return t.job.ID
}

// Job returns a snapshot of the job record.
func (t *Tracer) Job() core.JobExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// Steps returns a snapshot of the finalised steps in completion order.
func (t *Tracer) Steps() []core.StepExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.StepExecution, len(t.steps))
	copy(out, t.steps)
	return out
}

// AlreadySaved reports whether the execution has been persisted.
func (t *Tracer) AlreadySaved() bool {
	return t.saved.Load()
}

// TraceStep is a chain.StepWrapper recording the wrapped step.
func (t *Tracer) TraceStep(n chain.Node, next chain.Executor) chain.Executor {
	if n.SkipTracing() {
		return next
	}
	name := security.TruncateName(n.Name())

	return func(ctx context.Context, in chain.Result[any]) (chain.Result[any], error) {
		id, previousID := t.beginStep()
		started := t.cfg.Clock()
		ctx, span := t.tracer.Start(ctx, "step "+name, trace.WithAttributes(
			attribute.String("batch.job.id", t.job.ID),
			attribute.String("batch.step.id", id),
			attribute.String("batch.step.name", name),
		))

		out, err := next(ctx, in)

		if err == nil && n.Async() {
			if p, ok := out.Value.(promise.Awaitable); ok {
				t.addPending(id, pendingStep{name: name, started: started, previousID: previousID})
				p.OnComplete(func(perr error) {
					t.finishStep(id, name, started, previousID, comment(n, p.Payload(), perr), perr, span)
				})
				return out, nil
			}
		}

		t.finishStep(id, name, started, previousID, comment(n, out.Value, err), err, span)
		return out, err
	}
}

// TraceExecution is a chain.ExecutionWrapper recording the job and saving
// the execution once the run, promise awaiting included, is over.
func (t *Tracer) TraceExecution(next func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		t.mu.Lock()
		t.job.Started = t.cfg.Clock()
		t.mu.Unlock()

		ctx, span := t.tracer.Start(ctx, "job "+t.job.Name, trace.WithAttributes(
			attribute.String("batch.job.id", t.job.ID),
			attribute.String("batch.job.name", t.job.Name),
		))
		defer span.End()

		err := next(ctx)

		t.mu.Lock()
		t.job.Finished = t.cfg.Clock()
		if err != nil {
			t.job.Status = core.StatusFailure
			t.job.Comment = core.StringPtr(security.SanitizeComment(message(err)))
		} else {
			t.job.Status = core.StatusSuccess
		}
		t.mu.Unlock()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, message(err))
		}

		if saveErr := t.Save(context.WithoutCancel(ctx)); saveErr != nil && !errors.Is(saveErr, core.ErrAlreadySaved) {
			t.cfg.Logger.Error("failed to save execution trace", "job_id", t.job.ID, "error", saveErr)
			return errors.Join(err, saveErr)
		}
		return err
	}
}

// Save persists the job and its steps. Only the first call does anything;
// later calls return core.ErrAlreadySaved. Async steps still pending are
// saved as failures and their completion is ignored from then on.
func (t *Tracer) Save(ctx context.Context) error {
	if !t.saved.CompareAndSwap(false, true) {
		return core.ErrAlreadySaved
	}

	t.mu.Lock()
	t.sealed = true
	job := t.job
	if job.Status == "" {
		job.Status = core.StatusSuccess
	}
	if job.Finished.IsZero() {
		job.Finished = t.cfg.Clock()
	}
	steps := make([]core.StepExecution, len(t.steps), len(t.steps)+len(t.pending))
	copy(steps, t.steps)
	now := t.cfg.Clock()
	for _, id := range t.pendingOrder {
		p, ok := t.pending[id]
		if !ok {
			continue
		}
		steps = append(steps, core.StepExecution{
			ID:         id,
			JobID:      job.ID,
			Name:       p.name,
			Status:     core.StatusFailure,
			Comment:    core.StringPtr(StillRunningComment),
			Started:    p.started,
			Finished:   now,
			PreviousID: p.previousID,
		})
	}
	t.mu.Unlock()

	if err := t.store.SaveExecution(ctx, &job, steps); err != nil {
		return fmt.Errorf("save execution %s: %w", job.ID, err)
	}
	t.cfg.Logger.Info("execution saved", "job_id", job.ID, "job", job.Name, "status", job.Status, "steps", len(steps))
	return nil
}

func (t *Tracer) beginStep() (string, *string) {
	id := uuid.New().String()

	t.mu.Lock()
	defer t.mu.Unlock()
	previous := core.StringPtr(t.lastID)
	t.lastID = id
	return id, previous
}

func (t *Tracer) addPending(id string, p pendingStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = p
	t.pendingOrder = append(t.pendingOrder, id)
}

func (t *Tracer) finishStep(id, name string, started time.Time, previousID *string, comment string, err error, span trace.Span) {
	finished := t.cfg.Clock()
	status := core.StatusSuccess
	if err != nil {
		status = core.StatusFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, message(err))
	}
	span.SetAttributes(attribute.String("batch.step.status", string(status)))
	span.End()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		t.cfg.Logger.Warn("step completed after the execution was saved", "job_id", t.job.ID, "step", name, "status", status)
		return
	}
	delete(t.pending, id)
	t.steps = append(t.steps, core.StepExecution{
		ID:         id,
		JobID:      t.job.ID,
		Name:       name,
		Status:     status,
		Comment:    core.StringPtr(security.SanitizeComment(comment)),
		Started:    started,
		Finished:   finished,
		PreviousID: previousID,
	})
}

// comment derives the step comment: the failure message, else the summary
// of the step callable, else the summary of its output.
func comment(n chain.Node, value any, err error) string {
	if err != nil {
		return message(err)
	}
	if d := n.Describer(); d != nil {
		return d.DescribeOutcome()
	}
	if d, ok := value.(core.DescribesOutcome); ok {
		return d.DescribeOutcome()
	}
	return ""
}

// message returns the message of the failure cause, without the step prefix.
func message(err error) string {
	if se, ok := err.(*core.StepError); ok {
		return se.Err.Error()
	}
	return err.Error()
}

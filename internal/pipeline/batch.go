package pipeline

import (
	"context"

	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/processor"
	"github.com/xaenox/dump-bot/internal/storage"
	"go.uber.org/zap"
)

// EntryProcessor runs one dump through classification and applies the result.
type EntryProcessor interface {
	ProcessEntry(ctx context.Context, entry *models.Entry) (*processor.Outcome, error)
}

// Update is delivered on every step transition. Steps is a snapshot the receiver may keep.
type Update struct {
	Index int
	Steps []Step
}

func (u Update) Step() Step {
	return u.Steps[u.Index]
}

// Observer is called synchronously; the batch does not advance until it returns.
type Observer func(Update)

// Report is the outcome of a whole batch run.
type Report struct {
	SessionID string
	Steps     []Step
	Done      int
	Failed    int
	// Cancelled is set when the run stopped before every step was attempted.
	Cancelled bool
	// Aggregate is the session re-read from storage after the run.
	Aggregate *models.Aggregate
	// RefreshErr is a batch-level warning: steps were applied but the re-read failed.
	RefreshErr error
}

// Pending counts steps the run never reached.
func (r *Report) Pending() int {
	return len(r.Steps) - r.Done - r.Failed
}

// Pipeline processes dumps strictly one at a time so each theme merge sees
// every theme created before it.
type Pipeline struct {
	proc   EntryProcessor
	store  storage.Storage
	logger *zap.Logger
}

func New(proc EntryProcessor, store storage.Storage, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		proc:   proc,
		store:  store,
		logger: logger,
	}
}

// Run processes entries in order. A failed entry is marked error and the run
// moves on. Cancellation is checked before each entry starts; entries not
// started stay pending. After the run the session aggregate is reloaded.
func (p *Pipeline) Run(ctx context.Context, sessionID string, entries []*models.Entry, observe Observer) *Report {
	if observe == nil {
		observe = func(Update) {}
	}

	steps := make([]Step, len(entries))
	for i, e := range entries {
		steps[i] = newStep(e)
	}
	report := &Report{SessionID: sessionID}

	transition := func(i int) {
		observe(Update{Index: i, Steps: snapshot(steps)})
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		steps[i].Status = StatusProcessing
		transition(i)

		outcome, err := p.proc.ProcessEntry(ctx, entry)
		if err != nil {
			steps[i].Status = StatusError
			steps[i].Reasoning = []string{err.Error()}
			report.Failed++
			transition(i)

			p.logger.Warn("Failed to process dump",
				zap.String("session_id", sessionID),
				zap.String("dump_id", entry.ID),
				zap.Error(err))

			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			continue
		}

		steps[i].Status = StatusDone
		steps[i].Reasoning = append([]string{}, outcome.Reasoning...)
		steps[i].Result = &StepResult{
			Type:           outcome.Type,
			ActionsCount:   len(outcome.Actions),
			QuestionsCount: len(outcome.Questions),
			ThemesCount:    len(outcome.Themes),
		}
		report.Done++
		transition(i)
	}

	report.Steps = snapshot(steps)

	agg, err := storage.LoadAggregate(context.WithoutCancel(ctx), p.store, sessionID)
	if err != nil {
		report.RefreshErr = err
		p.logger.Warn("Failed to refresh session after batch",
			zap.String("session_id", sessionID),
			zap.Error(err))
	} else {
		report.Aggregate = agg
	}

	p.logger.Info("Batch finished",
		zap.String("session_id", sessionID),
		zap.Int("done", report.Done),
		zap.Int("failed", report.Failed),
		zap.Int("pending", report.Pending()),
		zap.Bool("cancelled", report.Cancelled))
	return report
}

// Event is one item of a streamed run. The last event carries the report.
type Event struct {
	Update *Update
	Report *Report
}

// Stream runs the batch in a goroutine and delivers every transition on the
// returned channel, then the report, then closes it. The channel is unbuffered,
// so the batch waits for each event to be received. Once ctx is done, events
// nobody receives are dropped and the channel still closes.
func (p *Pipeline) Stream(ctx context.Context, sessionID string, entries []*models.Entry) <-chan Event {
	events := make(chan Event)
	send := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(events)
		report := p.Run(ctx, sessionID, entries, func(u Update) {
			send(Event{Update: &u})
		})
		send(Event{Report: report})
	}()
	return events
}

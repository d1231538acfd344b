package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/formbot/core/logger"
)

// FormLister returns the forms that currently have bindings.
type FormLister interface {
	BoundForms(ctx context.Context) ([]string, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Poller syncs every bound form and reconciles watches on fixed intervals.
// A zero interval disables that half.
type Poller struct {
	forms     FormLister
	syncer    FormSyncer
	reconcile Reconciler

	SyncEvery      time.Duration
	ReconcileEvery time.Duration
}

// NewPoller returns a poller.
func NewPoller(forms FormLister, syncer FormSyncer, reconcile Reconciler, syncEvery, reconcileEvery time.Duration) *Poller {
	return &Poller{
		forms:          forms,
		syncer:         syncer,
		reconcile:      reconcile,
		SyncEvery:      syncEvery,
		ReconcileEvery: reconcileEvery,
	}
}

// Run blocks until ctx is done. Tick errors are logged, never returned.
func (p *Poller) Run(ctx context.Context) error {
	syncC, stopSync := ticker(p.SyncEvery)
	defer stopSync()
	reconcileC, stopReconcile := ticker(p.ReconcileEvery)
	defer stopReconcile()
	if syncC == nil && reconcileC == nil {
		<-ctx.Done()
		return nil
	}
	if p.reconcile != nil && reconcileC != nil {
		p.runReconcile(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-syncC:
			p.SyncAll(ctx)
		case <-reconcileC:
			p.runReconcile(ctx)
		}
	}
}

// SyncAll syncs each bound form once and returns the number of dispatched responses.
func (p *Poller) SyncAll(ctx context.Context) int {
	ctx = logger.WithRID(ctx, uuid.NewString())
	ids, err := p.forms.BoundForms(ctx)
	if err != nil {
		logger.Warn(ctx, "ingest", "ingest.poll.bindings_failed", slog.String("err", err.Error()))
		return 0
	}
	total := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		n, _ := p.syncer.Sync(ctx, id)
		total += n
	}
	logger.Debug(ctx, "ingest", "ingest.poll.done",
		slog.Int("forms", len(ids)),
		slog.Int("count", total),
	)
	return total
}

func (p *Poller) runReconcile(ctx context.Context) {
	if p.reconcile == nil {
		return
	}
	ctx = logger.WithRID(ctx, uuid.NewString())
	if err := p.reconcile.Reconcile(ctx); err != nil {
		logger.Warn(ctx, "ingest", "ingest.reconcile.failed", slog.String("err", err.Error()))
	}
}

// ticker returns a nil channel, which never fires, for a non-positive interval.
func ticker(every time.Duration) (<-chan time.Time, func()) {
	if every <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(every)
	return t.C, t.Stop
}

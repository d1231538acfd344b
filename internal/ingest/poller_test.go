package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticForms []string

func (s staticForms) BoundForms(context.Context) ([]string, error) { return s, nil }

type brokenForms struct{}

func (brokenForms) BoundForms(context.Context) ([]string, error) { return nil, errors.New("db down") }

type countReconciler struct{ n chan struct{} }

func (c countReconciler) Reconcile(context.Context) error {
	c.n <- struct{}{}
	return errors.New("transient")
}

func TestSyncAll(t *testing.T) {
	syncer := &recordingSyncer{}
	p := NewPoller(staticForms{"A", "B"}, syncer, nil, 0, 0)
	assert.Equal(t, 2, p.SyncAll(context.Background()))
	assert.Equal(t, []string{"A", "B"}, syncer.forms)

	p = NewPoller(brokenForms{}, syncer, nil, 0, 0)
	assert.Zero(t, p.SyncAll(context.Background()))
}

func TestPollerReconcilesOnStartAndStops(t *testing.T) {
	rec := countReconciler{n: make(chan struct{}, 4)}
	p := NewPoller(staticForms{}, &recordingSyncer{}, rec, 0, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-rec.n:
	case <-time.After(time.Second):
		t.Fatal("reconcile did not run on start")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

// Package ingest turns new form responses into dispatcher events, either when a
// watch notification is pushed or on a polling tick.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/dispatch"
	"github.com/m3rciful/formbot/internal/property"
)

// Source lists the submissions of a form made at or after since.
type Source interface {
	ListSubmissions(ctx context.Context, formID string, since time.Time) ([]dispatch.Event, error)
}

// Dispatcher relays one submission.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.Event) error
}

// cursor is the relay position of a form. Seen holds the response ids submitted
// exactly at Since that were already relayed.
type cursor struct {
	Since time.Time `json:"since"`
	Seen  []string  `json:"seen,omitempty"`
}

func cursorKey(formID string) string {
	return "cursor:" + formID
}

// Syncer relays new submissions of a form exactly once per cursor. Syncs of the
// same form are serialized.
type Syncer struct {
	src      Source
	out      Dispatcher
	props    property.Store
	lookback time.Duration
	now      func() time.Time
	metrics  *Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSyncer returns a syncer. A form without a cursor starts lookback before now.
func NewSyncer(src Source, out Dispatcher, props property.Store, lookback time.Duration, metrics *Metrics) *Syncer {
	return &Syncer{
		src:      src,
		out:      out,
		props:    props,
		lookback: lookback,
		now:      time.Now,
		metrics:  metrics,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Syncer) lock(formID string) func() {
	s.mu.Lock()
	l, ok := s.locks[formID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[formID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Sync relays every submission of formID past its cursor, oldest first, and returns
// how many were dispatched. The cursor advances after each successful dispatch, so a
// failed dispatch is retried by the next sync.
func (s *Syncer) Sync(ctx context.Context, formID string) (int, error) {
	defer s.lock(formID)()
	ctx = logger.WithFormID(ctx, formID)
	start := time.Now()

	n, err := s.sync(ctx, formID)
	if s.metrics != nil {
		s.metrics.syncTime.Observe(time.Since(start).Seconds())
		s.metrics.dispatched.Add(float64(n))
		if err != nil {
			s.metrics.syncErrors.Inc()
		}
	}
	if err != nil {
		logger.Warn(ctx, "ingest", "ingest.sync.failed",
			slog.Int("count", n),
			slog.String("err", err.Error()),
		)
		return n, err
	}
	if n > 0 {
		logger.Info(ctx, "ingest", "ingest.sync.done",
			slog.Int("count", n),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
	}
	return n, nil
}

func (s *Syncer) sync(ctx context.Context, formID string) (int, error) {
	cur, err := s.loadCursor(ctx, formID)
	if err != nil {
		return 0, err
	}
	events, err := s.src.ListSubmissions(ctx, formID, cur.Since)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, ev := range events {
		if ev.SubmittedAt.IsZero() {
			ev.SubmittedAt = cur.Since
		}
		switch {
		case ev.SubmittedAt.Before(cur.Since):
			continue
		case ev.SubmittedAt.Equal(cur.Since) && slices.Contains(cur.Seen, ev.ResponseID):
			if s.metrics != nil {
				s.metrics.skipped.Inc()
			}
			continue
		}
		if ev.FormID == "" {
			ev.FormID = formID
		}
		if err := s.out.Dispatch(ctx, ev); err != nil {
			return dispatched, fmt.Errorf("dispatch response %s: %w", ev.ResponseID, err)
		}
		dispatched++
		if ev.SubmittedAt.After(cur.Since) {
			cur = cursor{Since: ev.SubmittedAt}
		}
		cur.Seen = append(cur.Seen, ev.ResponseID)
		if err := s.saveCursor(ctx, formID, cur); err != nil {
			return dispatched, err
		}
	}
	return dispatched, nil
}

func (s *Syncer) loadCursor(ctx context.Context, formID string) (cursor, error) {
	it, err := s.props.Get(ctx, cursorKey(formID))
	if errors.Is(err, property.ErrNotFound) {
		return cursor{Since: s.now().Add(-s.lookback).UTC()}, nil
	}
	if err != nil {
		return cursor{}, fmt.Errorf("read cursor: %w", err)
	}
	var cur cursor
	if err := json.Unmarshal([]byte(it.Value), &cur); err != nil || cur.Since.IsZero() {
		logger.Warn(ctx, "ingest", "ingest.cursor.reset", slog.String("value", logger.SanitizeLimit(it.Value, 128)))
		return cursor{Since: s.now().Add(-s.lookback).UTC()}, nil
	}
	return cur, nil
}

func (s *Syncer) saveCursor(ctx context.Context, formID string, cur cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	if err := s.props.Set(ctx, cursorKey(formID), string(data)); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}

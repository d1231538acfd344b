package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/internal/property"
)

const (
	// Key is the property key holding the binding list.
	Key = "bindings"

	defaultMaxAttempts = 5
)

// Repository reads and writes the whole binding list as one property. Every mutation
// is an optimistic read-modify-write: a concurrent writer makes the CAS fail and the
// mutation is re-applied on the fresh list.
type Repository struct {
	props       property.Store
	maxAttempts int
}

// NewRepository returns a repository on top of props.
func NewRepository(props property.Store) *Repository {
	return &Repository{props: props, maxAttempts: defaultMaxAttempts}
}

// List returns a snapshot of every binding.
func (r *Repository) List(ctx context.Context) ([]Binding, error) {
	list, _, err := r.load(ctx)
	return list, err
}

// BoundForms returns the distinct form ids that have at least one binding.
func (r *Repository) BoundForms(ctx context.Context) ([]string, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return FormIDs(list), nil
}

// FindByForm returns the first binding for formID.
func (r *Repository) FindByForm(ctx context.Context, formID string) (Binding, bool, error) {
	list, err := r.List(ctx)
	if err != nil {
		return Binding{}, false, err
	}
	for _, b := range list {
		if b.FormID == formID {
			return b, true, nil
		}
	}
	return Binding{}, false, nil
}

// Append adds b unless the exact pair is already stored. It reports whether the list changed.
func (r *Repository) Append(ctx context.Context, b Binding) (bool, error) {
	if !b.Valid() {
		return false, fmt.Errorf("binding: append: empty chat or form id")
	}
	added := false
	err := r.Update(ctx, func(list []Binding) ([]Binding, error) {
		added = !slices.Contains(list, b)
		if !added {
			return list, nil
		}
		return append(list, b), nil
	})
	return added, err
}

// RemoveWhere drops every binding matching pred and returns how many were removed.
func (r *Repository) RemoveWhere(ctx context.Context, pred func(Binding) bool) (int, error) {
	removed := 0
	err := r.Update(ctx, func(list []Binding) ([]Binding, error) {
		kept := slices.DeleteFunc(slices.Clone(list), pred)
		removed = len(list) - len(kept)
		return kept, nil
	})
	return removed, err
}

// ReplaceAll stores seq as the complete list.
func (r *Repository) ReplaceAll(ctx context.Context, seq []Binding) error {
	return r.Update(ctx, func([]Binding) ([]Binding, error) {
		return slices.Clone(seq), nil
	})
}

// Update applies fn to the current list and stores the result with a version check,
// retrying on conflicts. fn may run more than once and must not have side effects
// beyond its return value and captured counters it resets each call.
func (r *Repository) Update(ctx context.Context, fn func([]Binding) ([]Binding, error)) error {
	attempts := r.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		list, version, err := r.load(ctx)
		if err != nil && !errors.Is(err, ErrMalformed) {
			return err
		}
		if err != nil {
			// replacing an undecodable list is the only way to recover it
			logger.Warn(ctx, "bindings", "bindings.malformed.replace", slog.String("err", err.Error()))
		}
		next, err := fn(slices.Clone(list))
		if err != nil {
			return err
		}
		value, err := encodeList(next)
		if err != nil {
			return err
		}
		_, err = r.props.Put(ctx, Key, value, version)
		if err == nil {
			logger.Debug(ctx, "bindings", "bindings.write",
				slog.Int("bindings", len(next)),
				slog.Int("attempts", attempt),
			)
			return nil
		}
		if !errors.Is(err, property.ErrVersionConflict) {
			return fmt.Errorf("binding: write: %w", err)
		}
		logger.Debug(ctx, "bindings", "bindings.write.conflict", slog.Int("attempts", attempt))
	}
	return fmt.Errorf("binding: write: %w after %d attempts", property.ErrVersionConflict, attempts)
}

// load returns the decoded list and its version. A malformed list yields ErrMalformed
// together with the version so Update can overwrite it.
func (r *Repository) load(ctx context.Context) ([]Binding, int64, error) {
	it, err := r.props.Get(ctx, Key)
	if errors.Is(err, property.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("binding: read: %w", err)
	}
	list, dropped, err := decodeList(it.Value)
	if err != nil {
		return nil, it.Version, err
	}
	if dropped > 0 {
		logger.Warn(ctx, "bindings", "bindings.decode.dropped", slog.Int("count", dropped))
	}
	return list, it.Version, nil
}

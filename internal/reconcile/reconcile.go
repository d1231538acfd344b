// Package reconcile keeps exactly one form watch per bound form and drops bindings
// whose form can no longer be opened.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/telegram/format"
	"github.com/m3rciful/formbot/internal/binding"
	"github.com/m3rciful/formbot/internal/property"
	"github.com/m3rciful/formbot/internal/validate"
)

// LedgerKey is the property holding the form ids this service registered watches for.
const LedgerKey = "subscriptions"

// ErrInvalidForms is returned under the fail policy when bound forms cannot be opened.
var ErrInvalidForms = errors.New("bound forms cannot be opened")

// Subscription is a standing watch that delivers submission events of a form.
type Subscription struct {
	ID         string
	FormID     string
	ExpireTime time.Time
}

// Subscriptions manages the watches of a form.
type Subscriptions interface {
	List(ctx context.Context, formID string) ([]Subscription, error)
	Create(ctx context.Context, formID string) (Subscription, error)
	Delete(ctx context.Context, formID, id string) error
	Renew(ctx context.Context, formID, id string) (Subscription, error)
}

// Notifier tells a chat that its form broke.
type Notifier interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Policy decides what happens to bindings of forms that fail to open.
type Policy string

const (
	RemoveByForm Policy = coreconfig.PolicyRemoveByForm
	RemoveLast   Policy = coreconfig.PolicyRemoveLast
	Fail         Policy = coreconfig.PolicyFail
)

// Report summarizes one reconciliation pass.
type Report struct {
	Forms   int
	Created int
	Renewed int
	Deleted int
	Removed int
	Invalid []string
}

// Options configures a Reconciler.
type Options struct {
	Policy      Policy
	RenewBefore time.Duration
	Now         func() time.Time
}

// Reconciler aligns watches and the ledger with the binding list.
type Reconciler struct {
	bindings *binding.Repository
	props    property.Store
	forms    validate.FormResolver
	subs     Subscriptions
	notify   Notifier
	opts     Options
}

// New returns a reconciler. The ledger is stored in props next to the bindings.
// A nil subs disables watch management: forms are still checked and invalid ones
// handled per policy, but no watch is touched and the ledger is left as it is.
func New(bindings *binding.Repository, props property.Store, forms validate.FormResolver, subs Subscriptions, notify Notifier, opts Options) *Reconciler {
	if opts.Policy == "" {
		opts.Policy = RemoveByForm
	}
	if opts.RenewBefore <= 0 {
		opts.RenewBefore = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{bindings: bindings, props: props, forms: forms, subs: subs, notify: notify, opts: opts}
}

// Reconcile runs one pass and logs its report.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	start := time.Now()
	rep, err := r.Run(ctx)
	attrs := []slog.Attr{
		slog.Int("forms", rep.Forms),
		slog.Int("created", rep.Created),
		slog.Int("renewed", rep.Renewed),
		slog.Int("deleted", rep.Deleted),
		slog.Int("removed", rep.Removed),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	}
	if len(rep.Invalid) > 0 {
		attrs = append(attrs, slog.String("invalid", strings.Join(rep.Invalid, ",")))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
		logger.Warn(ctx, "reconcile", "reconcile.done", attrs...)
		return err
	}
	logger.Info(ctx, "reconcile", "reconcile.done", attrs...)
	return nil
}

// Run performs the reconciliation: stale forms lose their watches, every bound form
// ends up with exactly one fresh watch, and invalid forms are handled per policy.
// Running it twice on an unchanged binding list changes nothing the second time.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	list, err := r.bindings.List(ctx)
	if err != nil {
		return rep, err
	}
	ledger, err := r.loadLedger(ctx)
	if err != nil {
		return rep, err
	}

	bound := binding.FormIDs(list)
	rep.Forms = len(bound)
	var (
		errs   []error
		active []string
	)

	// stale forms first so a form re-bound later starts from a clean slate
	for _, formID := range ledger {
		if r.subs == nil || slices.Contains(bound, formID) {
			continue
		}
		n, err := r.dropAll(ctx, formID)
		rep.Deleted += n
		if err != nil {
			errs = append(errs, err)
			active = append(active, formID)
		}
	}

	for _, formID := range bound {
		ctx := logger.WithFormID(ctx, formID)
		if _, err := r.forms.ResolveForm(ctx, formID); err != nil {
			if errors.Is(err, validate.ErrFormNotFound) || errors.Is(err, validate.ErrFormPermission) {
				rep.Invalid = append(rep.Invalid, formID)
				r.reportInvalid(ctx, formID, binding.ChatsForForm(list, formID))
				continue
			}
			errs = append(errs, fmt.Errorf("resolve form %s: %w", formID, err))
			active = append(active, formID)
			continue
		}
		if r.subs != nil {
			if err := r.ensureOne(ctx, formID, &rep); err != nil {
				errs = append(errs, err)
			}
		}
		active = append(active, formID)
	}

	if len(rep.Invalid) > 0 {
		removed, err := r.applyPolicy(ctx, rep.Invalid)
		rep.Removed = removed
		if err != nil {
			errs = append(errs, err)
		}
		active = append(active, r.stillBound(ctx, rep.Invalid)...)
	}

	if r.subs == nil {
		logger.Debug(ctx, "reconcile", "reconcile.watches.disabled")
		return rep, errors.Join(errs...)
	}
	if err := r.saveLedger(ctx, active); err != nil {
		errs = append(errs, err)
	}
	return rep, errors.Join(errs...)
}

// stillBound returns the invalid forms the policy left bound. They keep their ledger
// entry so their watches are cleaned up once they are finally unbound. When the
// bindings cannot be read every invalid form is kept.
func (r *Reconciler) stillBound(ctx context.Context, invalid []string) []string {
	list, err := r.bindings.List(ctx)
	if err != nil {
		return invalid
	}
	bound := binding.FormIDs(list)
	var out []string
	for _, formID := range invalid {
		if slices.Contains(bound, formID) {
			out = append(out, formID)
		}
	}
	return out
}

// ensureOne leaves exactly one watch on formID, creating or renewing as needed.
func (r *Reconciler) ensureOne(ctx context.Context, formID string, rep *Report) error {
	subs, err := r.subs.List(ctx, formID)
	if err != nil {
		return fmt.Errorf("list watches of %s: %w", formID, err)
	}
	if len(subs) == 0 {
		s, err := r.subs.Create(ctx, formID)
		if err != nil {
			return fmt.Errorf("create watch on %s: %w", formID, err)
		}
		rep.Created++
		logger.Info(ctx, "reconcile", "reconcile.watch.created",
			slog.String("watch_id", s.ID),
			slog.Time("expire_time", s.ExpireTime),
		)
		return nil
	}

	// keep the watch that lives longest
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].ExpireTime.After(subs[j].ExpireTime) })
	keep := subs[0]
	for _, extra := range subs[1:] {
		if err := r.subs.Delete(ctx, formID, extra.ID); err != nil {
			return fmt.Errorf("delete extra watch %s on %s: %w", extra.ID, formID, err)
		}
		rep.Deleted++
	}
	if keep.ExpireTime.IsZero() || keep.ExpireTime.Sub(r.opts.Now()) > r.opts.RenewBefore {
		return nil
	}
	renewed, err := r.subs.Renew(ctx, formID, keep.ID)
	if err != nil {
		return fmt.Errorf("renew watch %s on %s: %w", keep.ID, formID, err)
	}
	rep.Renewed++
	logger.Info(ctx, "reconcile", "reconcile.watch.renewed",
		slog.String("watch_id", renewed.ID),
		slog.Time("expire_time", renewed.ExpireTime),
	)
	return nil
}

func (r *Reconciler) dropAll(ctx context.Context, formID string) (int, error) {
	subs, err := r.subs.List(ctx, formID)
	if errors.Is(err, validate.ErrFormNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list watches of stale form %s: %w", formID, err)
	}
	n := 0
	for _, s := range subs {
		if err := r.subs.Delete(ctx, formID, s.ID); err != nil {
			return n, fmt.Errorf("delete watch %s on stale form %s: %w", s.ID, formID, err)
		}
		n++
	}
	return n, nil
}

func (r *Reconciler) reportInvalid(ctx context.Context, formID string, chats []string) {
	logger.Warn(ctx, "reconcile", "reconcile.form.invalid", slog.Int("bindings", len(chats)))
	if r.notify == nil {
		return
	}
	text := fmt.Sprintf("Error: the form %s can no longer be opened. Bind the chat again with /connect.", format.Code(formID))
	for _, chatID := range chats {
		if err := r.notify.SendText(ctx, chatID, text); err != nil {
			logger.Warn(ctx, "reconcile", "reconcile.notify.failed",
				slog.String("chat_id", chatID),
				slog.String("err", err.Error()),
			)
		}
	}
}

func (r *Reconciler) applyPolicy(ctx context.Context, invalid []string) (int, error) {
	switch r.opts.Policy {
	case RemoveByForm:
		return r.bindings.RemoveWhere(ctx, func(b binding.Binding) bool {
			return slices.Contains(invalid, b.FormID)
		})
	case RemoveLast:
		removed := 0
		err := r.bindings.Update(ctx, func(list []binding.Binding) ([]binding.Binding, error) {
			n := min(len(invalid), len(list))
			removed = n
			return list[:len(list)-n], nil
		})
		return removed, err
	case Fail:
		return 0, fmt.Errorf("%w: %s", ErrInvalidForms, strings.Join(invalid, ", "))
	default:
		return 0, fmt.Errorf("unknown invalid form policy %q", r.opts.Policy)
	}
}

func (r *Reconciler) loadLedger(ctx context.Context) ([]string, error) {
	it, err := r.props.Get(ctx, LedgerKey)
	if errors.Is(err, property.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watch ledger: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(it.Value), &ids); err != nil {
		logger.Warn(ctx, "reconcile", "reconcile.ledger.malformed", slog.String("err", err.Error()))
		return nil, nil
	}
	return ids, nil
}

func (r *Reconciler) saveLedger(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := r.props.Set(ctx, LedgerKey, string(data)); err != nil {
		return fmt.Errorf("write watch ledger: %w", err)
	}
	return nil
}

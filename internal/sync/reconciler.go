package sync

import (
	"fmt"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/status"
	"go.uber.org/zap"
)

// Outcome describes what a reconciliation did to the store.
type Outcome int

const (
	// Ignored means the store was left unchanged.
	Ignored Outcome = iota
	// Updated means an existing durable row was overwritten in place.
	Updated
	// Collapsed means a pending placeholder took the durable identity in place.
	Collapsed
	// Appended means the record was new and was added at the end.
	Appended
	// Deduplicated means a placeholder was dropped because its durable row
	// was already present, and that row was updated.
	Deduplicated
	// Inserted means a reloaded record was new and was placed before the
	// trailing local rows, shifting them down.
	Inserted
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Updated:
		return "updated"
	case Collapsed:
		return "collapsed"
	case Appended:
		return "appended"
	case Deduplicated:
		return "deduplicated"
	case Inserted:
		return "inserted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result reports the effect of one reconciliation.
type Result struct {
	Outcome Outcome
	// Index is the position of the affected row after the change, or -1.
	Index int
	// ID is the id of the affected row after the change.
	ID string
	// PreviousID is the placeholder id for Collapsed and Deduplicated.
	PreviousID string
	// Removed is the position the placeholder occupied before it was
	// dropped, or -1.
	Removed int
}

// Changed reports whether the store was mutated.
func (r Result) Changed() bool { return r.Outcome != Ignored }

var ignored = Result{Outcome: Ignored, Index: -1, Removed: -1}

// Reconciler merges authoritative records into a local store, collapsing
// them with optimistic placeholders. It keeps no state besides the store and
// must be called from the goroutine that owns the store.
type Reconciler struct {
	store  *entity.Store
	logger *zap.Logger
}

// NewReconciler creates a reconciler writing into store.
func NewReconciler(store *entity.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// Apply merges a durable record that arrived without a known temporary id.
//
// An existing row with the same id is overwritten in place. Otherwise the
// oldest pending outgoing placeholder of the same conversation with an
// identical body takes over the record's identity and status, keeping its
// slot. Anything else is appended.
func (r *Reconciler) Apply(m entity.Message) (Result, error) {
	return r.apply(m, false)
}

func (r *Reconciler) apply(m entity.Message, beforeLocal bool) (Result, error) {
	if err := m.Validate(); err != nil {
		r.logger.Warn("discarding malformed record", zap.String("id", m.ID), zap.Error(err))
		return ignored, err
	}

	if res, ok := r.update(m); ok {
		return res, nil
	}

	if m.Direction == entity.Outgoing {
		for _, p := range r.store.Pending(m.ConversationID) {
			if !p.SameBody(m) {
				continue
			}
			m.Status = status.Merge(p.Status, m.Status)
			i, ok := r.store.Replace(p.ID, m)
			if !ok {
				break
			}
			r.logger.Debug("placeholder collapsed by push",
				zap.String("temp_id", p.ID), zap.String("id", m.ID))
			return Result{Outcome: Collapsed, Index: i, ID: m.ID, PreviousID: p.ID, Removed: -1}, nil
		}
	}

	if at := r.store.LocalTail(); beforeLocal && at < r.store.Len() {
		i, _ := r.store.Insert(at, m)
		return Result{Outcome: Inserted, Index: i, ID: m.ID, Removed: -1}, nil
	}
	i, _ := r.store.Append(m)
	return Result{Outcome: Appended, Index: i, ID: m.ID, Removed: -1}, nil
}

// Resolve confirms the placeholder tempID with the record returned by the
// send call. It is a no-op when the placeholder is gone, which happens when
// the push channel already collapsed it.
func (r *Reconciler) Resolve(tempID string, durable entity.Message) (Result, error) {
	if err := durable.Validate(); err != nil {
		r.logger.Warn("discarding malformed send result",
			zap.String("temp_id", tempID), zap.Error(err))
		return ignored, err
	}

	placeholder, _, ok := r.store.Get(tempID)
	if !ok {
		return ignored, nil
	}

	if r.store.Has(durable.ID) {
		removed, _ := r.store.Remove(tempID)
		res, _ := r.update(durable)
		res.Outcome = Deduplicated
		res.PreviousID = tempID
		res.Removed = removed
		return res, nil
	}

	durable.Status = status.Merge(placeholder.Status, durable.Status)
	i, _ := r.store.Replace(tempID, durable)
	return Result{Outcome: Collapsed, Index: i, ID: durable.ID, PreviousID: tempID, Removed: -1}, nil
}

// Merge applies a bulk reload through the same path as single records.
// Records that are new to the store go before the trailing local rows, so
// history loaded after a submit stays above it. Malformed records are skipped.
func (r *Reconciler) Merge(batch []entity.Message) []Result {
	out := make([]Result, 0, len(batch))
	for _, m := range batch {
		res, err := r.apply(m, true)
		if err != nil {
			continue
		}
		out = append(out, res)
	}
	return out
}

// update overwrites the row carrying m.ID, never moving its status backwards.
// Settled rows only take status advances.
func (r *Reconciler) update(m entity.Message) (Result, bool) {
	cur, _, ok := r.store.Get(m.ID)
	if !ok {
		return Result{}, false
	}
	st := status.Merge(cur.Status, m.Status)
	if cur.Status.Settled() {
		m = cur
	}
	m.Status = st
	i, _ := r.store.Replace(m.ID, m)
	return Result{Outcome: Updated, Index: i, ID: m.ID, Removed: -1}, true
}

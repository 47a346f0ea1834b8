package identity

import (
	"fmt"
	"sync/atomic"

	"github.com/FleetAI/fleet-console/pkg/types"
)

// Reconciler hands out temporary widget ids and swaps them for permanent ones
// once the gateway has persisted the widget.
//
// Temporary ids are negative and strictly decreasing for the lifetime of the
// Reconciler, so one shared instance never reissues an id still held by an
// unsaved widget.
type Reconciler struct {
	last atomic.Int64
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// NextTemporaryID returns a fresh negative id.
func (r *Reconciler) NextTemporaryID() int64 {
	return r.last.Add(-1)
}

// IsTemporary reports whether id was issued locally and is not yet persisted.
func IsTemporary(id int64) bool {
	return id < 0
}

// Reconcile rewrites the id of the single widget holding tempID to permanentID.
func (r *Reconciler) Reconcile(widgets []types.Widget, tempID, permanentID int64) error {
	if !IsTemporary(tempID) {
		return fmt.Errorf("widget id %d is not temporary", tempID)
	}
	if permanentID <= 0 {
		return fmt.Errorf("gateway returned non-permanent id %d for widget %d", permanentID, tempID)
	}

	idx := -1
	for i := range widgets {
		switch widgets[i].ID {
		case tempID:
			idx = i
		case permanentID:
			return fmt.Errorf("permanent id %d already used by another widget", permanentID)
		}
	}
	if idx < 0 {
		return fmt.Errorf("no widget with temporary id %d", tempID)
	}
	widgets[idx].ID = permanentID
	return nil
}

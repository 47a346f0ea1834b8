package store

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// entityState is the dirty-tracking shared by both stores. Callers hold the
// owning store's mutex.
//
// rev increases on every local mutation; gen increases whenever the open
// entity is replaced or closed. A save captures both so that results arriving
// after the user moved on are not applied to the wrong entity, and so that
// edits made while a save was in flight keep the entity dirty.
type entityState struct {
	dirty  bool
	rev    uint64
	gen    uint64
	saving bool
}

func (e *entityState) markDirty() uint64 {
	e.dirty = true
	e.rev++
	return e.rev
}

func (e *entityState) reset() {
	e.dirty = false
	e.rev++
	e.gen++
}

type saveTicket struct {
	gen uint64
	rev uint64
}

func (e *entityState) beginSave() (saveTicket, error) {
	if !e.dirty {
		return saveTicket{}, ErrNoChanges
	}
	if e.saving {
		return saveTicket{}, ErrSaveInProgress
	}
	e.saving = true
	return saveTicket{gen: e.gen, rev: e.rev}, nil
}

func (e *entityState) sameEntity(t saveTicket) bool {
	return e.gen == t.gen
}

// finishSave clears the dirty flag when the save fully succeeded and nothing
// was edited while it ran.
func (e *entityState) finishSave(t saveTicket, ok bool) {
	e.saving = false
	if ok && e.gen == t.gen && e.rev == t.rev {
		e.dirty = false
	}
}

// errorCollector aggregates sub-operation failures from concurrent goroutines.
type errorCollector struct {
	mu     sync.Mutex
	result *multierror.Error
}

func (c *errorCollector) add(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = multierror.Append(c.result, err)
}

func (c *errorCollector) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.ErrorOrNil()
}

package core

import (
	"sync"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// Snapshot is an immutable view of the aggregate handed to readers.
type Snapshot struct {
	Task         *models.Task
	Principal    models.Principal
	Capabilities models.CapabilitySet
	// Seq is the request sequence of the response that produced Task.
	Seq uint64
}

// TaskAggregate holds the last server-confirmed task and the capabilities
// derived from it. It is only ever replaced wholesale.
//
// Subscribers are notified one change at a time, in the order the changes
// were applied, so the last snapshot a subscriber sees is always the current
// one. A subscriber may read the aggregate but must not change it.
type TaskAggregate struct {
	// notifyMu is held from a change until its subscribers have been called.
	notifyMu    sync.Mutex
	mu          sync.RWMutex
	principal   models.Principal
	task        *models.Task
	caps        models.CapabilitySet
	seq         uint64
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// NewTaskAggregate creates an empty aggregate for principal.
func NewTaskAggregate(principal models.Principal) *TaskAggregate {
	return &TaskAggregate{
		principal:   principal,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state. Task is nil until the first response is applied.
func (a *TaskAggregate) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *TaskAggregate) snapshotLocked() Snapshot {
	return Snapshot{
		Task:         a.task.Clone(),
		Principal:    a.principal,
		Capabilities: a.caps,
		Seq:          a.seq,
	}
}

// ReplaceIfNewer swaps in a confirmed task and recomputes capabilities, but
// only when seq is newer than the sequence of the task currently held. It
// reports whether the task was applied.
func (a *TaskAggregate) ReplaceIfNewer(task *models.Task, seq uint64) bool {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if a.task != nil && seq <= a.seq {
		a.mu.Unlock()
		return false
	}
	a.task = task.Clone()
	a.seq = seq
	a.recomputeLocked()
	snap, subs := a.snapshotLocked(), a.subscribersLocked()
	a.mu.Unlock()
	notify(subs, snap)
	return true
}

// SetPrincipal changes the acting principal and recomputes capabilities.
func (a *TaskAggregate) SetPrincipal(p models.Principal) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	a.principal = p
	a.recomputeLocked()
	snap, subs := a.snapshotLocked(), a.subscribersLocked()
	a.mu.Unlock()
	notify(subs, snap)
}

// Subscribe registers fn to receive every new snapshot. The returned
// function removes the subscription.
func (a *TaskAggregate) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
}

// CanComment is the check the comment thread reads.
func (a *TaskAggregate) CanComment() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.task != nil && a.caps.CanComment
}

// CanUploadAttachment is the check the attachment panel reads.
func (a *TaskAggregate) CanUploadAttachment() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.task != nil && a.caps.CanUploadAttachment
}

func (a *TaskAggregate) recomputeLocked() {
	if a.task == nil {
		a.caps = models.CapabilitySet{}
		return
	}
	a.caps = ResolveCapabilities(a.principal, a.task)
}

func (a *TaskAggregate) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Package taskqueue implements the wave-scheduled, dependency-aware task
// queue: a priority heap keyed by (priority asc, insertion order asc) with a
// side index by task id, expressed with container/heap.
package taskqueue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

type entry struct {
	task       model.Task
	createdAt  time.Time
	sequence   int
	waveID     int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the dependency-aware, wave-partitioned task priority queue.
type Queue struct {
	mu sync.Mutex

	heap     entryHeap
	byID     map[string]*entry
	seq      int
	completed map[string]bool
	failed    map[string]bool
	escalated map[string]bool
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		byID:      make(map[string]*entry),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
		escalated: make(map[string]bool),
	}
}

// Enqueue validates that t's declared dependencies exist in the queue (or
// are already terminal) and marks it queued.
func (q *Queue) Enqueue(t model.Task, waveID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, dep := range t.Dependencies {
		if _, known := q.byID[dep]; !known && !q.completed[dep] && !q.failed[dep] {
			return fmt.Errorf("task %s declares unknown dependency %s", t.ID, dep)
		}
	}

	t.Status = model.TaskQueued
	wid := waveID
	t.WaveID = &wid
	e := &entry{task: t, createdAt: time.Now(), sequence: q.seq, waveID: waveID}
	q.seq++
	q.byID[t.ID] = e
	heap.Push(&q.heap, e)
	return nil
}

// Dequeue returns the highest-priority task whose dependencies are all
// completed and whose wave matches currentWave; returns (Task{}, false) if
// none is ready.
func (q *Queue) Dequeue(currentWave int) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*entry
	for _, e := range q.heap {
		if e.waveID == currentWave && e.task.Status == model.TaskQueued && e.task.DependenciesSatisfied(q.completed) {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return model.Task{}, false
	}

	best := ready[0]
	for _, e := range ready[1:] {
		if e.task.Priority < best.task.Priority || (e.task.Priority == best.task.Priority && e.sequence < best.sequence) {
			best = e
		}
	}

	best.task.Status = model.TaskAssigned
	q.byID[best.task.ID].task = best.task
	return best.task, true
}

// DequeueMatching is Dequeue restricted to ready tasks for which pred
// returns true; used by callers that can service some task types (e.g.
// checkpoint tasks) without needing external capacity such as a free
// worker agent.
func (q *Queue) DequeueMatching(currentWave int, pred func(model.Task) bool) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*entry
	for _, e := range q.heap {
		if e.waveID == currentWave && e.task.Status == model.TaskQueued && e.task.DependenciesSatisfied(q.completed) && pred(e.task) {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return model.Task{}, false
	}

	best := ready[0]
	for _, e := range ready[1:] {
		if e.task.Priority < best.task.Priority || (e.task.Priority == best.task.Priority && e.sequence < best.sequence) {
			best = e
		}
	}

	best.task.Status = model.TaskAssigned
	q.byID[best.task.ID].task = best.task
	return best.task, true
}

// GetReadyTasks returns all queued tasks across all waves whose
// dependencies are satisfied, in priority order.
func (q *Queue) GetReadyTasks() []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*entry
	for _, e := range q.heap {
		if e.task.Status == model.TaskQueued && e.task.DependenciesSatisfied(q.completed) {
			ready = append(ready, e)
		}
	}
	return sortedTasks(ready)
}

// GetByWave returns every task assigned to waveID that is still in the
// heap (not yet completed, failed, or escalated), in priority order.
func (q *Queue) GetByWave(waveID int) []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var entries []*entry
	for _, e := range q.heap {
		if e.waveID == waveID {
			entries = append(entries, e)
		}
	}
	return sortedTasks(entries)
}

func sortedTasks(entries []*entry) []model.Task {
	out := make([]model.Task, len(entries))
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j], entries[j-1]
			if a.task.Priority < b.task.Priority || (a.task.Priority == b.task.Priority && a.sequence < b.sequence) {
				entries[j], entries[j-1] = entries[j-1], entries[j]
			} else {
				break
			}
		}
	}
	for i, e := range entries {
		out[i] = e.task
	}
	return out
}

// MarkComplete marks id completed and removes it from the pending heap.
func (q *Queue) MarkComplete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[id] = true
	if e, ok := q.byID[id]; ok {
		e.task.Status = model.TaskCompleted
	}
	q.removeFromHeap(id)
}

// MarkFailed marks id failed and removes it from the pending heap; its
// transitive dependents become blocked on next status query.
func (q *Queue) MarkFailed(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = true
	if e, ok := q.byID[id]; ok {
		e.task.Status = model.TaskFailed
	}
	q.removeFromHeap(id)
}

// MarkEscalated marks id escalated (terminal, not retried) and removes it
// from the pending heap.
func (q *Queue) MarkEscalated(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.escalated[id] = true
	if e, ok := q.byID[id]; ok {
		e.task.Status = model.TaskEscalated
	}
	q.removeFromHeap(id)
}

func (q *Queue) removeFromHeap(id string) {
	for i, e := range q.heap {
		if e.task.ID == id {
			heap.Remove(&q.heap, i)
			return
		}
	}
}

// Get returns the last-known state of task id, whether still pending or
// already terminal (terminal tasks are retained in the side index after
// leaving the heap).
func (q *Queue) Get(id string) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return model.Task{}, false
	}
	return e.task, true
}

// CompletedIDs returns every task id marked complete so far.
func (q *Queue) CompletedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.completed))
	for id := range q.completed {
		out = append(out, id)
	}
	return out
}

// PendingIDs returns every task id still tracked in the heap (not yet
// completed, failed, or escalated).
func (q *Queue) PendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.heap))
	for _, e := range q.heap {
		out = append(out, e.task.ID)
	}
	return out
}

// Size returns the number of tasks still tracked in the heap (not yet
// terminal).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// IsEmpty reports whether the heap has no pending tasks.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// IsBlocked reports whether id has any failed or escalated transitive
// ancestor: a task with such an ancestor is reported as blocked rather
// than left ready.
func (q *Queue) IsBlocked(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasFailedAncestor(id, make(map[string]bool))
}

func (q *Queue) hasFailedAncestor(id string, visited map[string]bool) bool {
	if visited[id] {
		return false
	}
	visited[id] = true

	e, ok := q.byID[id]
	if !ok {
		return false
	}
	for _, dep := range e.task.Dependencies {
		if q.failed[dep] || q.escalated[dep] {
			return true
		}
		if q.hasFailedAncestor(dep, visited) {
			return true
		}
	}
	return false
}

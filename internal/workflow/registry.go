package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/joescharf/specflow/internal/models"
)

// Registry holds in-memory workflow state keyed by issue number.
//
// Two levels of locking apply. The registry mutex guards the map and every
// field mutation (through Update), so snapshots never observe a torn state.
// The per-issue lock returned by Lock serializes whole transitions for one
// issue, which may span slow generation and review calls.
type Registry struct {
	mu     sync.Mutex
	states map[int]*models.WorkflowState
	locks  map[int]*issueLock
}

// issueLock counts holders and waiters so idle entries can be dropped.
// refs is guarded by Registry.mu.
type issueLock struct {
	sync.Mutex
	refs int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[int]*models.WorkflowState),
		locks:  make(map[int]*issueLock),
	}
}

func (r *Registry) acquireRef(issue int) *issueLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[issue]
	if !ok {
		l = &issueLock{}
		r.locks[issue] = l
	}
	l.refs++
	return l
}

func (r *Registry) releaseRef(issue int, l *issueLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if _, tracked := r.states[issue]; l.refs == 0 && !tracked {
		delete(r.locks, issue)
	}
}

// Lock acquires the transition lock for issue and returns its release func.
func (r *Registry) Lock(issue int) func() {
	l := r.acquireRef(issue)
	l.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.Unlock()
			r.releaseRef(issue, l)
		})
	}
}

// Put stores state, replacing any previous workflow for the same issue.
func (r *Registry) Put(state *models.WorkflowState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.IssueNumber] = state
}

// Get returns a snapshot of the workflow for issue.
func (r *Registry) Get(issue int) (models.WorkflowState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[issue]
	if !ok {
		return models.WorkflowState{}, false
	}
	return s.Snapshot(), true
}

// Update applies fn to the stored state. It reports false when issue is unknown.
func (r *Registry) Update(issue int, fn func(*models.WorkflowState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[issue]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// List returns snapshots of every workflow ordered by issue number.
func (r *Registry) List() []models.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.WorkflowState, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueNumber < out[j].IssueNumber })
	return out
}

// Len returns the number of tracked workflows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Prune evicts finished workflows untouched for longer than olderThan and
// returns how many were removed. Workflows with a transition in flight are kept.
func (r *Registry) Prune(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for issue, s := range r.states {
		if !s.Finished() || s.UpdatedAt.After(cutoff) {
			continue
		}
		if l := r.locks[issue]; l != nil {
			if l.refs > 0 {
				continue
			}
			delete(r.locks, issue)
		}
		delete(r.states, issue)
		removed++
	}
	return removed
}

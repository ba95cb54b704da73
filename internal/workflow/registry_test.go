package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/models"
)

func TestRegistry_PutGetUpdate(t *testing.T) {
	r := NewRegistry()
	r.Put(models.NewWorkflowState(models.Issue{Number: 1, Title: "One"}))

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, models.StageSpec, got.CurrentStage)

	// Snapshots are copies.
	got.CurrentStage = models.StageTasks
	again, _ := r.Get(1)
	assert.Equal(t, models.StageSpec, again.CurrentStage)

	assert.True(t, r.Update(1, func(s *models.WorkflowState) { s.Advance() }))
	again, _ = r.Get(1)
	assert.Equal(t, models.StagePlan, again.CurrentStage)

	assert.False(t, r.Update(2, func(s *models.WorkflowState) { t.Fatal("must not be called") }))
	_, ok = r.Get(2)
	assert.False(t, ok)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []int{9, 3, 5} {
		r.Put(models.NewWorkflowState(models.Issue{Number: n}))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int{3, 5, 9}, []int{list[0].IssueNumber, list[1].IssueNumber, list[2].IssueNumber})
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_LockSerializesPerIssue(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock(42)
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestRegistry_LockIndependentIssues(t *testing.T) {
	r := NewRegistry()
	unlock := r.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := r.Lock(2)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on issue 2 blocked by issue 1")
	}
}

func TestRegistry_Prune(t *testing.T) {
	r := NewRegistry()
	old := time.Now().UTC().Add(-2 * time.Hour)

	rejected := models.NewWorkflowState(models.Issue{Number: 1})
	rejected.Reject("no")
	rejected.UpdatedAt = old

	pending := models.NewWorkflowState(models.Issue{Number: 2})
	pending.UpdatedAt = old

	fresh := models.NewWorkflowState(models.Issue{Number: 3})
	fresh.Reject("no")

	busy := models.NewWorkflowState(models.Issue{Number: 4})
	busy.Reject("no")
	busy.UpdatedAt = old

	for _, s := range []*models.WorkflowState{rejected, pending, fresh, busy} {
		r.Put(s)
	}

	unlock := r.Lock(4)
	removed := r.Prune(time.Hour)
	unlock()

	assert.Equal(t, 1, removed)
	_, ok := r.Get(1)
	assert.False(t, ok, "old rejected workflow should be evicted")
	for _, n := range []int{2, 3, 4} {
		_, ok := r.Get(n)
		assert.True(t, ok, "workflow %d should be kept", n)
	}
}

func TestRegistry_PruneDropsIdleLocks(t *testing.T) {
	r := NewRegistry()
	done := models.NewWorkflowState(models.Issue{Number: 1})
	done.Reject("no")
	done.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	r.Put(done)

	r.Lock(1)()
	assert.Len(t, r.locks, 1, "lock of a tracked workflow is kept")

	assert.Equal(t, 1, r.Prune(time.Hour))
	assert.Empty(t, r.locks)
}

func TestRegistry_LockOfUnknownIssueIsDropped(t *testing.T) {
	r := NewRegistry()
	unlock := r.Lock(99)
	assert.Len(t, r.locks, 1)
	unlock()
	unlock()
	assert.Empty(t, r.locks)
}

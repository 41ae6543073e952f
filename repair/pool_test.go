package repair

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/apthunt/harvester/classifier"
	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/registry"
)

func newPoolFixture(t *testing.T, workers int) (*Pool, *registry.MemoryStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	if _, err := store.Seed(context.Background(), "rentals", scriptV1, false); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	cfg := testConfig()
	loops := make([]*Loop, workers)
	for i := range loops {
		runner := &stubRunner{specs: []attemptSpec{{success: true, payload: goodPayload()}}}
		loops[i] = NewLoop(cfg, runner, store, classifier.New(nil), &stubGenerator{}, stubIdentities{}, nil, int64(i))
	}
	return NewPool(loops, 8), store
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	pool, _ := newPoolFixture(t, 2)
	pool.Start(context.Background())

	jobs := make([]*Job, 0, 5)
	for i := 0; i < 5; i++ {
		job, err := pool.Submit(Request{
			ID:   fmt.Sprintf("req-%d", i),
			Site: models.TargetSite{Name: "rentals"},
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		jobs = append(jobs, job)
	}
	pool.Close()

	for i, job := range jobs {
		select {
		case <-job.Done():
		default:
			t.Fatalf("job %d not done after Close()", i)
		}
		if job.Err != nil {
			t.Errorf("job %d error = %v", i, job.Err)
		}
		if job.Outcome.State != StateSucceeded {
			t.Errorf("job %d state = %q, want %q", i, job.Outcome.State, StateSucceeded)
		}
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	pool, _ := newPoolFixture(t, 1)
	pool.Start(context.Background())
	pool.Close()

	if _, err := pool.Submit(Request{ID: "late", Site: models.TargetSite{Name: "rentals"}}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Submit() error = %v, want ErrPoolClosed", err)
	}
}

func TestPoolCancelledContextDrainsQueue(t *testing.T) {
	pool, _ := newPoolFixture(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool.Start(ctx)

	job, err := pool.Submit(Request{ID: "req-1", Site: models.TargetSite{Name: "rentals"}})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	pool.Close()

	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("job not drained after cancellation")
	}
	if !errors.Is(job.Err, ErrCancelled) {
		t.Errorf("job error = %v, want ErrCancelled", job.Err)
	}
	if job.Outcome.Reason != ReasonCancelled {
		t.Errorf("job reason = %q, want %q", job.Outcome.Reason, ReasonCancelled)
	}
}

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// A bump task that completes without sending (spacing deferral, paused
// campaign, lost claim) must free its task id so the poller can
// re-enqueue the same (lead, stage) on a later pass.
func TestEnqueueBumpReusableAfterCompletion(t *testing.T) {
	mr := miniredis.RunT(t)
	redisOpt := asynq.RedisClientOpt{Addr: mr.Addr()}

	client := asynq.NewClient(redisOpt)
	t.Cleanup(func() { client.Close() })

	handled := make(chan struct{}, 4)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{"dispatch": 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBumpSend, func(ctx context.Context, task *asynq.Task) error {
		handled <- struct{}{}
		return nil
	})
	if err := srv.Start(mux); err != nil {
		t.Fatalf("start asynq server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	enqueuer := NewAsynqEnqueuer(client, "dispatch")
	ctx := context.Background()
	leadID := uuid.New()
	campaignID := uuid.New()

	if err := enqueuer.EnqueueBump(ctx, leadID, campaignID, 1, time.Now()); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	waitForHandle(t, handled)
	waitForTaskGone(t, redisOpt, "dispatch", bumpTaskID(leadID, 1))

	if err := enqueuer.EnqueueBump(ctx, leadID, campaignID, 1, time.Now()); err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	waitForHandle(t, handled)
}

func waitForHandle(t *testing.T, handled <-chan struct{}) {
	t.Helper()
	select {
	case <-handled:
	case <-time.After(10 * time.Second):
		t.Fatal("bump task was never processed")
	}
}

// waitForTaskGone polls until the completed task's id is released
func waitForTaskGone(t *testing.T, opt asynq.RedisClientOpt, queue, taskID string) {
	t.Helper()
	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_, err := inspector.GetTaskInfo(queue, taskID)
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("completed task still holds its task id")
}

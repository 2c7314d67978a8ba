// Package dispatch runs the automation engine: a periodic poller that
// admits queued leads and enqueues due bumps, and an asynq worker that
// executes the sends.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeBumpSend is the asynq task type for one outbound bump
const TypeBumpSend = "dispatch:bump_send"

// BumpPayload identifies the send a task performs
type BumpPayload struct {
	LeadID     uuid.UUID `json:"lead_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Stage      int       `json:"stage"`
}

// NewBumpTask builds the asynq task for a lead and stage. The task id
// is derived from (lead_id, stage) so re-enqueueing the same bump is
// a no-op while one is pending.
func NewBumpTask(leadID, campaignID uuid.UUID, stage int) (*asynq.Task, error) {
	payload, err := json.Marshal(BumpPayload{
		LeadID:     leadID,
		CampaignID: campaignID,
		Stage:      stage,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bump payload: %w", err)
	}
	return asynq.NewTask(TypeBumpSend, payload,
		asynq.TaskID(bumpTaskID(leadID, stage)),
	), nil
}

func bumpTaskID(leadID uuid.UUID, stage int) string {
	return fmt.Sprintf("bump:%s:%d", leadID, stage)
}

// ParseBumpPayload decodes a bump task payload
func ParseBumpPayload(task *asynq.Task) (BumpPayload, error) {
	var p BumpPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal bump payload: %w", err)
	}
	return p, nil
}

// Enqueuer schedules bump tasks for execution
type Enqueuer interface {
	EnqueueBump(ctx context.Context, leadID, campaignID uuid.UUID, stage int, processAt time.Time) error
}

// AsynqEnqueuer enqueues bump tasks on the shared redis queue
type AsynqEnqueuer struct {
	client *asynq.Client
	queue  string
}

// NewAsynqEnqueuer creates the production enqueuer
func NewAsynqEnqueuer(client *asynq.Client, queue string) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, queue: queue}
}

func (e *AsynqEnqueuer) EnqueueBump(ctx context.Context, leadID, campaignID uuid.UUID, stage int, processAt time.Time) error {
	task, err := NewBumpTask(leadID, campaignID, stage)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(e.queue),
		// The worker applies its own retry policy; a failed task must
		// not be replayed with a stale stage. No retention: a completed
		// task must free the task id immediately so the poller can
		// re-enqueue a deferred bump on its next pass.
		asynq.MaxRetry(0),
	}
	if processAt.After(time.Now()) {
		opts = append(opts, asynq.ProcessAt(processAt))
	}

	_, err = e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		// A pending task for the same (lead, stage) already exists
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue bump task: %w", err)
	}
	return nil
}

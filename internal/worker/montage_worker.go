// Package worker contains the asynq task handlers. They translate queue
// payloads into store and pipeline calls; all domain logic lives below.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/pipeline"
	"github.com/clipreel/api/internal/store"
)

// taskEnvelope is the wire shape shared by all queued tasks.
type taskEnvelope struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// MontageWorker processes montage assembly tasks.
type MontageWorker struct {
	store        store.Store
	orchestrator *pipeline.Orchestrator
}

// NewMontageWorker creates a montage worker.
func NewMontageWorker(st store.Store, orchestrator *pipeline.Orchestrator) *MontageWorker {
	return &MontageWorker{
		store:        st,
		orchestrator: orchestrator,
	}
}

// ProcessTask handles one assembly task. Asynq may redeliver a task after
// a crash; a job already in a terminal state is acknowledged and skipped
// so redelivery never reruns a finished montage.
func (w *MontageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var envelope taskEnvelope
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	var payload model.MontageJobPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal montage payload: %w", err)
	}

	job, err := w.store.GetMontageJob(ctx, envelope.JobID)
	if err != nil {
		return fmt.Errorf("failed to load montage job %s: %w", envelope.JobID, err)
	}
	if job.Status.IsTerminal() {
		log.Printf("Montage job %s already %s, skipping", job.ID, job.Status)
		return nil
	}

	log.Printf("Starting montage job %s for %s/%s", job.ID, payload.UserID, payload.WeekBucket)
	return w.orchestrator.Run(ctx, job.ID, payload.UserID, payload.WeekBucket)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/store"
)

// Asynq task types
const (
	TaskTypeClipAnalyze     = "clip:analyze"
	TaskTypeMontageAssemble = "montage:assemble"
)

// ErrNotOwner is returned when a caller asks about someone else's record.
var ErrNotOwner = errors.New("record belongs to another user")

// MontageService creates montage jobs and answers status polls. The
// expensive work happens in the background worker; StartMontage only
// persists the job and enqueues the task.
type MontageService struct {
	store       store.Store
	asynqClient *asynq.Client
}

func NewMontageService(st store.Store, asynqClient *asynq.Client) *MontageService {
	return &MontageService{
		store:       st,
		asynqClient: asynqClient,
	}
}

// StartMontage creates a processing job and queues the assembly task. An
// empty weekBucket means the current week; a past bucket rebuilds that
// week from whatever clips it still holds. The job record exists before
// the task is enqueued so a crash in between leaves a poll-able
// processing job, never a dangling task.
func (s *MontageService) StartMontage(ctx context.Context, userID, weekBucket string) (*model.MontageStartResponse, error) {
	if weekBucket == "" {
		weekBucket = model.CurrentWeekBucket()
	}

	job, err := s.store.CreateMontageJob(ctx, userID, weekBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	payload := &model.MontageJobPayload{
		UserID:     userID,
		WeekBucket: weekBucket,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task, err := newTask(TaskTypeMontageAssemble, job.ID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("montage"),
		asynq.MaxRetry(2),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.MontageStartResponse{
		JobID:      job.ID,
		Status:     job.Status,
		WeekBucket: weekBucket,
		CreatedAt:  job.CreatedAt,
	}, nil
}

// GetStatus returns the job record for polling. Ownership is enforced
// here so handlers only translate errors.
func (s *MontageService) GetStatus(ctx context.Context, jobID, userID string) (*model.MontageJob, error) {
	job, err := s.store.GetMontageJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotOwner
	}
	return job, nil
}

// newTask wraps a job id and payload in the envelope the workers expect.
func newTask(taskType, jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clipreel/api/internal/client"
	"github.com/clipreel/api/internal/config"
	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/store"
)

// ErrWeeklyQuotaExceeded is returned when a user has already uploaded the
// maximum number of clips for the current week.
var ErrWeeklyQuotaExceeded = errors.New("weekly upload quota exceeded")

// UploadService accepts clip uploads: it stores the source media, creates
// the upload job and queues analysis. Scoring itself runs in the worker.
type UploadService struct {
	store       store.Store
	storage     client.StorageClient
	asynqClient *asynq.Client
	cfg         *config.MontageConfig
}

func NewUploadService(st store.Store, storage client.StorageClient, asynqClient *asynq.Client, cfg *config.MontageConfig) *UploadService {
	return &UploadService{
		store:       st,
		storage:     storage,
		asynqClient: asynqClient,
		cfg:         cfg,
	}
}

// AcceptClip stores the uploaded media and queues background analysis.
// The returned job is already persisted, so the client can poll right away.
func (s *UploadService) AcceptClip(ctx context.Context, userID, filename, contentType string, file io.Reader, capturedAt time.Time) (*model.UploadClipResponse, error) {
	weekBucket := model.WeekBucketFor(capturedAt)

	count, err := s.store.GetUploadCount(ctx, userID, weekBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check upload quota: %w", err)
	}
	if count >= int64(s.cfg.MaxUploadsPerWeek) {
		return nil, ErrWeeklyQuotaExceeded
	}

	jobID := uuid.New().String()

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".mp4"
	}
	sourceKey := fmt.Sprintf("sources/%s/%s/%s%s", userID, weekBucket, jobID, ext)

	if _, err := s.storage.Upload(ctx, sourceKey, file, contentType); err != nil {
		return nil, fmt.Errorf("failed to store source media: %w", err)
	}

	now := time.Now()
	job := &model.UploadJob{
		JobID:      jobID,
		UserID:     userID,
		Status:     model.UploadStatusProcessing,
		SourceKey:  sourceKey,
		CapturedAt: capturedAt,
		CreatedAt:  now,
	}
	if err := s.store.SaveUploadJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save upload job: %w", err)
	}

	payload := &model.AnalyzeJobPayload{
		UserID:     userID,
		SourceKey:  sourceKey,
		Intent:     s.cfg.Intent,
		CapturedAt: capturedAt,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task, err := newTask(TaskTypeClipAnalyze, jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("analyze"),
		asynq.MaxRetry(2),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.UploadClipResponse{
		JobID:     jobID,
		Status:    job.Status,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the upload job record for polling.
func (s *UploadService) GetStatus(ctx context.Context, jobID, userID string) (*model.UploadJob, error) {
	job, err := s.store.GetUploadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotOwner
	}
	return job, nil
}

// ListClips returns the user's scored clips for a week bucket, newest
// relevance first. An empty weekBucket means the current week.
func (s *UploadService) ListClips(ctx context.Context, userID, weekBucket string) (*model.ClipListResponse, error) {
	if weekBucket == "" {
		weekBucket = model.CurrentWeekBucket()
	}

	clips, err := s.store.FetchClips(ctx, userID, weekBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}

	return &model.ClipListResponse{
		WeekBucket: weekBucket,
		Clips:      clips,
	}, nil
}

// DeleteClip removes a clip record and, best effort, its source media.
func (s *UploadService) DeleteClip(ctx context.Context, userID, clipID string) error {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return err
	}
	if clip.UserID != userID {
		return ErrNotOwner
	}

	// The media delete is best effort: an orphaned object is cheaper than
	// a clip record that keeps resurfacing in selections.
	if err := s.storage.Delete(ctx, clip.SourceKey); err != nil {
		log.Printf("Failed to delete source media %s: %v", clip.SourceKey, err)
	}

	return s.store.DeleteClip(ctx, clip)
}

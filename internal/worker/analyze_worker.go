package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clipreel/api/internal/client"
	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/store"
	"github.com/clipreel/api/internal/websocket"
)

// Fallback segment used when the scorer cannot produce a verdict: the
// first few seconds of the source with neutral scores, so the clip still
// competes in selection instead of vanishing.
const (
	fallbackSegmentSec = 3.0
	neutralScore       = 0.5
)

// AnalyzeWorker processes single-clip analysis tasks.
type AnalyzeWorker struct {
	store      store.Store
	scorer     client.Scorer
	transcoder client.Transcoder
	storage    client.StorageClient
	hub        *websocket.Hub
}

// NewAnalyzeWorker creates an analysis worker.
func NewAnalyzeWorker(st store.Store, scorer client.Scorer, transcoder client.Transcoder, storage client.StorageClient, hub *websocket.Hub) *AnalyzeWorker {
	return &AnalyzeWorker{
		store:      st,
		scorer:     scorer,
		transcoder: transcoder,
		storage:    storage,
		hub:        hub,
	}
}

// ProcessTask scores one uploaded video and persists the resulting clip.
// Scorer failure degrades to the fallback segment; only infrastructure
// failures (store, storage) fail the upload job.
func (w *AnalyzeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var envelope taskEnvelope
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	var payload model.AnalyzeJobPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal analyze payload: %w", err)
	}

	job, err := w.store.GetUploadJob(ctx, envelope.JobID)
	if err != nil {
		return fmt.Errorf("failed to load upload job %s: %w", envelope.JobID, err)
	}
	if job.Status != model.UploadStatusProcessing {
		log.Printf("Upload job %s already %s, skipping", job.JobID, job.Status)
		return nil
	}

	mediaURL, err := w.storage.GetSignedURL(ctx, payload.SourceKey, time.Hour)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("Failed to sign media URL: %v", err))
		return err
	}

	// Probe first so both the real verdict and the fallback can be
	// clamped to the actual media length.
	var sourceDuration float64
	if probe, err := w.transcoder.Probe(ctx, mediaURL); err != nil {
		log.Printf("Probe failed for job %s, duration unknown: %v", job.JobID, err)
	} else {
		sourceDuration = probe.Duration
	}

	analysis, err := w.scorer.AnalyzeClip(ctx, mediaURL, payload.Intent)
	if err != nil {
		log.Printf("Analysis failed for job %s, using fallback segment: %v", job.JobID, err)
		analysis = fallbackAnalysis(sourceDuration)
	} else {
		clampAnalysis(analysis, sourceDuration)
	}

	now := time.Now()
	clip := &model.Clip{
		ID:          uuid.New().String(),
		UserID:      payload.UserID,
		SourceKey:   payload.SourceKey,
		SourceID:    job.JobID,
		StartSec:    analysis.StartSec,
		EndSec:      analysis.EndSec,
		Description: analysis.Description,
		Scores: model.Scores{
			Relevance:  analysis.Relevance,
			Quality:    analysis.Quality,
			Confidence: analysis.Confidence,
		},
		WeekBucket: model.WeekBucketFor(payload.CapturedAt),
		CapturedAt: payload.CapturedAt,
		CreatedAt:  now,
	}

	if err := w.store.SaveClip(ctx, clip); err != nil {
		w.failJob(ctx, job, fmt.Sprintf("Failed to save clip: %v", err))
		return err
	}

	job.Status = model.UploadStatusCompleted
	job.ClipID = &clip.ID
	job.CompletedAt = &now
	if err := w.store.SaveUploadJob(ctx, job); err != nil {
		return fmt.Errorf("failed to finalize upload job %s: %w", job.JobID, err)
	}

	if _, err := w.store.IncrUploadCount(ctx, payload.UserID, clip.WeekBucket); err != nil {
		log.Printf("Failed to bump upload count for %s/%s: %v", payload.UserID, clip.WeekBucket, err)
	}

	w.hub.BroadcastComplete(job.JobID, job)
	log.Printf("Upload job %s completed: clip %s (%.1fs, relevance %.2f)",
		job.JobID, clip.ID, clip.DurationSec(), clip.Scores.Relevance)
	return nil
}

// fallbackAnalysis builds a neutral verdict covering the opening seconds.
func fallbackAnalysis(sourceDuration float64) *client.ClipAnalysis {
	end := fallbackSegmentSec
	if sourceDuration > 0 && sourceDuration < end {
		end = sourceDuration
	}
	return &client.ClipAnalysis{
		StartSec:    0,
		EndSec:      end,
		Description: "Unreviewed clip",
		Relevance:   neutralScore,
		Quality:     neutralScore,
		Confidence:  neutralScore,
	}
}

// clampAnalysis trims a verdict that overshoots the probed media length.
func clampAnalysis(a *client.ClipAnalysis, sourceDuration float64) {
	if sourceDuration <= 0 {
		return
	}
	if a.EndSec > sourceDuration {
		a.EndSec = sourceDuration
	}
	if a.StartSec >= a.EndSec {
		a.StartSec = 0
	}
}

func (w *AnalyzeWorker) failJob(ctx context.Context, job *model.UploadJob, errMsg string) {
	now := time.Now()
	job.Status = model.UploadStatusFailed
	job.Error = &errMsg
	job.CompletedAt = &now

	if err := w.store.SaveUploadJob(ctx, job); err != nil {
		log.Printf("Failed to mark upload job %s failed: %v", job.JobID, err)
	}
	w.hub.BroadcastError(job.JobID, "ANALYZE_FAILED", errMsg)
	log.Printf("Upload job %s failed: %s", job.JobID, errMsg)
}

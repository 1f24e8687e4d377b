// Package pipeline runs the montage assembly: fetch the week's clips,
// prune to the duration budget, normalize each survivor, concatenate,
// extract a thumbnail and publish. One Run handles one job.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipreel/api/internal/client"
	"github.com/clipreel/api/internal/config"
	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/selection"
	"github.com/clipreel/api/internal/store"
	"github.com/clipreel/api/internal/websocket"
)

const signedURLExpiry = time.Hour

// Orchestrator drives one montage run end to end. It owns the job record
// for the duration of the run: nothing else mutates a processing job.
type Orchestrator struct {
	store      store.Store
	scorer     client.Scorer
	transcoder client.Transcoder
	storage    client.StorageClient
	hub        *websocket.Hub
	cfg        *config.MontageConfig
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(st store.Store, scorer client.Scorer, transcoder client.Transcoder, storage client.StorageClient, hub *websocket.Hub, cfg *config.MontageConfig) *Orchestrator {
	return &Orchestrator{
		store:      st,
		scorer:     scorer,
		transcoder: transcoder,
		storage:    storage,
		hub:        hub,
		cfg:        cfg,
	}
}

// Run executes the pipeline for an already-created job. The job record is
// moved to exactly one terminal state before Run returns; the working
// directory is removed on every exit path, success or not.
func (o *Orchestrator) Run(ctx context.Context, jobID, userID, weekBucket string) error {
	if o.cfg.RunTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.RunTimeoutSec)*time.Second)
		defer cancel()
	}

	workDir := filepath.Join(o.cfg.WorkDir, fmt.Sprintf("montage-%s-%d", userID, time.Now().UnixNano()))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Failed to create working directory: %v", err))
		return err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("Failed to clean up workdir %s: %v", workDir, err)
		}
	}()

	// Stage 1: fetch the candidate pool
	o.progress(jobID, 5, "Fetching clips...")
	candidates, err := o.store.FetchClips(ctx, userID, weekBucket)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Failed to fetch clips: %v", err))
		return err
	}
	if len(candidates) == 0 {
		o.failJob(ctx, jobID, "No clips uploaded this week")
		return nil
	}

	// Stage 2: select within the duration budget
	o.progress(jobID, 15, "Selecting clips...")
	sel := o.selectClips(ctx, candidates)
	if len(sel.Clips) == 0 {
		o.failJob(ctx, jobID, "No clips met the selection criteria")
		return nil
	}

	// Stage 3: normalize survivors concurrently
	o.progress(jobID, 30, "Normalizing clips...")
	normalizedURLs, err := o.normalizeClips(ctx, jobID, sel.Clips)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Normalization failed: %v", err))
		return err
	}
	if len(normalizedURLs) == 0 {
		o.failJob(ctx, jobID, "All clips failed to normalize")
		return nil
	}

	// Stage 4: concatenate in chronological order
	o.progress(jobID, 60, "Assembling montage...")
	concatResp, err := o.transcoder.Concatenate(ctx, &client.ConcatRequest{
		InputURLs: normalizedURLs,
		OutputKey: fmt.Sprintf("assembly/%s/montage.mp4", jobID),
	})
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Concatenation failed: %v", err))
		return err
	}

	o.progress(jobID, 75, "Extracting thumbnail...")
	thumbResp, err := o.transcoder.Thumbnail(ctx, &client.ThumbnailRequest{
		InputURL:  concatResp.OutputURL,
		OutputKey: fmt.Sprintf("assembly/%s/thumb.jpg", jobID),
	})
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Thumbnail extraction failed: %v", err))
		return err
	}

	// Stage 5: publish artifacts
	o.progress(jobID, 85, "Publishing...")
	outputURL, thumbnailURL, err := o.publish(ctx, jobID, userID, weekBucket, workDir, concatResp.OutputURL, thumbResp.OutputURL)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Publishing failed: %v", err))
		return err
	}

	// Stage 6: finalize
	job, err := o.store.GetMontageJob(ctx, jobID)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Failed to load job: %v", err))
		return err
	}

	now := time.Now()
	job.Status = model.MontageStatusComplete
	job.OutputURL = outputURL
	job.ThumbnailURL = thumbnailURL
	job.ClipCount = len(normalizedURLs)
	job.TotalDurationSec = concatResp.Duration
	job.CompletedAt = &now

	if err := o.store.UpdateMontageJob(ctx, job); err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	// The weekly counter reset is a convenience, not part of the run's
	// correctness; its failure never fails a finished montage.
	if err := o.store.ResetUploadCount(ctx, userID, weekBucket); err != nil {
		log.Printf("Failed to reset upload count for %s/%s: %v", userID, weekBucket, err)
	}

	o.hub.BroadcastComplete(jobID, job)
	log.Printf("Montage job %s completed: %d clips, %.1fs", jobID, job.ClipCount, job.TotalDurationSec)
	return nil
}

// selectClips runs the selection engine in the configured mode. Redundancy
// hints are fetched only when pruning is actually needed, and the run
// degrades to score-floor pruning alone when the scorer cannot help.
func (o *Orchestrator) selectClips(ctx context.Context, candidates []model.Clip) selection.Selection {
	constraints := selection.Constraints{
		MinDurationSec: o.cfg.MinDurationSec,
		MaxDurationSec: o.cfg.MaxDurationSec,
		LongClipSec:    o.cfg.LongClipSec,
	}

	if o.cfg.PerSource {
		return selection.SelectPerSource(candidates, constraints)
	}

	total := 0.0
	for i := range candidates {
		total += candidates[i].DurationSec()
	}

	var hints []int
	if total > constraints.MaxDurationSec {
		summaries := make([]client.ClipSummary, len(candidates))
		for i := range candidates {
			summaries[i] = client.ClipSummary{Index: i, Description: candidates[i].Description}
		}
		var err error
		hints, err = o.scorer.SuggestRedundant(ctx, summaries)
		if err != nil {
			log.Printf("Redundancy ranking unavailable, falling back to score pruning: %v", err)
			hints = nil
		}
	}

	return selection.SelectMontage(candidates, hints, constraints)
}

// normalizeClips trims and reformats the selected clips with bounded
// concurrency, preserving chronological order in the result. A clip that
// fails to normalize is dropped from the montage rather than failing the
// run; only a fully empty result is fatal to the caller.
func (o *Orchestrator) normalizeClips(ctx context.Context, jobID string, clips []model.Clip) ([]string, error) {
	results := make([]string, len(clips))

	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.MaxTranscodes
	if limit <= 0 {
		limit = 2
	}
	g.SetLimit(limit)

	for i := range clips {
		i := i
		c := clips[i]
		g.Go(func() error {
			sourceURL, err := o.storage.GetSignedURL(gctx, c.SourceKey, signedURLExpiry)
			if err != nil {
				log.Printf("Skipping clip %s: failed to sign source URL: %v", c.ID, err)
				return nil
			}

			resp, err := o.transcoder.Normalize(gctx, &client.NormalizeRequest{
				InputURL:    sourceURL,
				StartSec:    c.StartSec,
				EndSec:      c.EndSec,
				AspectRatio: string(model.AspectPortrait),
				OutputKey:   fmt.Sprintf("assembly/%s/clip-%03d.mp4", jobID, i),
			})
			if err != nil {
				log.Printf("Skipping clip %s: normalize failed: %v", c.ID, err)
				return nil
			}

			results[i] = resp.OutputURL
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here; per-clip failures are
		// absorbed above.
		return nil, err
	}

	urls := make([]string, 0, len(clips))
	for _, u := range results {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// publish stages the transcoder's artifacts locally, then uploads them to
// object storage under the user's montage prefix.
func (o *Orchestrator) publish(ctx context.Context, jobID, userID, weekBucket, workDir, montageURL, thumbURL string) (string, string, error) {
	localMontage := filepath.Join(workDir, "montage.mp4")
	if err := o.transcoder.Fetch(ctx, montageURL, localMontage); err != nil {
		return "", "", fmt.Errorf("failed to stage montage: %w", err)
	}

	localThumb := filepath.Join(workDir, "thumb.jpg")
	if err := o.transcoder.Fetch(ctx, thumbURL, localThumb); err != nil {
		return "", "", fmt.Errorf("failed to stage thumbnail: %w", err)
	}

	montageFile, err := os.Open(localMontage)
	if err != nil {
		return "", "", fmt.Errorf("failed to open staged montage: %w", err)
	}
	defer montageFile.Close()

	outputURL, err := o.storage.Upload(ctx, fmt.Sprintf("montages/%s/%s/%s.mp4", userID, weekBucket, jobID), montageFile, "video/mp4")
	if err != nil {
		return "", "", fmt.Errorf("failed to upload montage: %w", err)
	}

	thumbFile, err := os.Open(localThumb)
	if err != nil {
		return "", "", fmt.Errorf("failed to open staged thumbnail: %w", err)
	}
	defer thumbFile.Close()

	thumbnailURL, err := o.storage.Upload(ctx, fmt.Sprintf("montages/%s/%s/%s.jpg", userID, weekBucket, jobID), thumbFile, "image/jpeg")
	if err != nil {
		return "", "", fmt.Errorf("failed to upload thumbnail: %w", err)
	}

	return outputURL, thumbnailURL, nil
}

func (o *Orchestrator) progress(jobID string, pct int, stage string) {
	o.hub.BroadcastProgress(jobID, pct, model.MontageStatusProcessing, stage)
}

// failJob moves the job to its failed terminal state. Best effort: a job
// that cannot be loaded or saved is logged, not retried, so the run still
// terminates and the workdir cleanup still fires.
func (o *Orchestrator) failJob(ctx context.Context, jobID, errMsg string) {
	// The run context may already be expired (wall-clock ceiling or caller
	// cancellation); the terminal write has to land anyway or pollers see
	// processing forever.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	job, err := o.store.GetMontageJob(ctx, jobID)
	if err != nil {
		log.Printf("Failed to load job %s for failure update: %v", jobID, err)
		return
	}

	now := time.Now()
	job.Status = model.MontageStatusFailed
	job.Error = &errMsg
	job.CompletedAt = &now

	if err := o.store.UpdateMontageJob(ctx, job); err != nil {
		log.Printf("Failed to mark job %s failed: %v", jobID, err)
	}

	o.hub.BroadcastError(jobID, "MONTAGE_FAILED", errMsg)
	log.Printf("Montage job %s failed: %s", jobID, errMsg)
}

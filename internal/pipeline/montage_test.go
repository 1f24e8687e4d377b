package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipreel/api/internal/client"
	"github.com/clipreel/api/internal/config"
	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/store"
	"github.com/clipreel/api/internal/websocket"
)

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	mu          sync.Mutex
	clips       []model.Clip
	jobs        map[string]*model.MontageJob
	resetCalled bool
	resetErr    error
}

func newFakeStore(clips []model.Clip) *fakeStore {
	return &fakeStore{
		clips: clips,
		jobs:  make(map[string]*model.MontageJob),
	}
}

func (s *fakeStore) SaveClip(ctx context.Context, clip *model.Clip) error { return nil }
func (s *fakeStore) GetClip(ctx context.Context, clipID string) (*model.Clip, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) FetchClips(ctx context.Context, userID, weekBucket string) ([]model.Clip, error) {
	return s.clips, nil
}
func (s *fakeStore) DeleteClip(ctx context.Context, clip *model.Clip) error { return nil }

func (s *fakeStore) CreateMontageJob(ctx context.Context, userID, weekBucket string) (*model.MontageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &model.MontageJob{
		ID:         fmt.Sprintf("job-%d", len(s.jobs)+1),
		UserID:     userID,
		WeekBucket: weekBucket,
		Status:     model.MontageStatusProcessing,
		CreatedAt:  time.Now(),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeStore) GetMontageJob(ctx context.Context, jobID string) (*model.MontageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) UpdateMontageJob(ctx context.Context, job *model.MontageJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeStore) DeleteMontageJob(ctx context.Context, jobID string) error { return nil }

func (s *fakeStore) SaveUploadJob(ctx context.Context, job *model.UploadJob) error { return nil }
func (s *fakeStore) GetUploadJob(ctx context.Context, jobID string) (*model.UploadJob, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) IncrUploadCount(ctx context.Context, userID, weekBucket string) (int64, error) {
	return 1, nil
}
func (s *fakeStore) GetUploadCount(ctx context.Context, userID, weekBucket string) (int64, error) {
	return 0, nil
}
func (s *fakeStore) ResetUploadCount(ctx context.Context, userID, weekBucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalled = true
	return s.resetErr
}

// fakeScorer returns canned redundancy hints.
type fakeScorer struct {
	hints    []int
	hintsErr error
}

func (s *fakeScorer) AnalyzeClip(ctx context.Context, mediaURL, intent string) (*client.ClipAnalysis, error) {
	return nil, errors.New("not used by the pipeline")
}

func (s *fakeScorer) SuggestRedundant(ctx context.Context, clips []client.ClipSummary) ([]int, error) {
	if s.hintsErr != nil {
		return nil, s.hintsErr
	}
	return s.hints, nil
}

// fakeTranscoder records calls and fails normalization for chosen clip ids.
type fakeTranscoder struct {
	mu             sync.Mutex
	normalizeCalls int
	concatCalls    int
	concatInputs   []string
	failNormalize  map[string]bool // keyed by input URL
	concatErr      error
}

func (t *fakeTranscoder) Normalize(ctx context.Context, req *client.NormalizeRequest) (*client.NormalizeResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.normalizeCalls++
	if t.failNormalize[req.InputURL] {
		return nil, errors.New("transcode error")
	}
	return &client.NormalizeResponse{
		OutputURL: "http://transcoder/" + req.OutputKey,
		Duration:  req.EndSec - req.StartSec,
	}, nil
}

func (t *fakeTranscoder) Concatenate(ctx context.Context, req *client.ConcatRequest) (*client.ConcatResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.concatCalls++
	if t.concatErr != nil {
		return nil, t.concatErr
	}
	t.concatInputs = append([]string(nil), req.InputURLs...)
	return &client.ConcatResponse{
		OutputURL: "http://transcoder/" + req.OutputKey,
		Duration:  42.0,
		Size:      1 << 20,
	}, nil
}

func (t *fakeTranscoder) Thumbnail(ctx context.Context, req *client.ThumbnailRequest) (*client.ThumbnailResponse, error) {
	return &client.ThumbnailResponse{OutputURL: "http://transcoder/" + req.OutputKey}, nil
}

func (t *fakeTranscoder) Probe(ctx context.Context, inputURL string) (*client.ProbeResponse, error) {
	return &client.ProbeResponse{Duration: 30, Width: 1080, Height: 1920}, nil
}

func (t *fakeTranscoder) Fetch(ctx context.Context, url, destPath string) error {
	return os.WriteFile(destPath, []byte("artifact"), 0o644)
}

func (t *fakeTranscoder) HealthCheck(ctx context.Context) error { return nil }

// fakeStorage maps keys to URLs without talking to R2.
type fakeStorage struct {
	mu       sync.Mutex
	uploaded []string
}

func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded = append(s.uploaded, key)
	return "https://cdn.test/" + key, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error { return nil }

func (s *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://signed.test/" + key, nil
}

func (s *fakeStorage) GetPublicURL(key string) string { return "https://cdn.test/" + key }

func testClip(id string, durationSec, relevance float64, capturedOffsetMin int) model.Clip {
	return model.Clip{
		ID:        id,
		UserID:    "user-1",
		SourceKey: "sources/user-1/" + id + ".mp4",
		SourceID:  "src-" + id,
		StartSec:  0,
		EndSec:    durationSec,
		Scores: model.Scores{
			Relevance:  relevance,
			Quality:    relevance,
			Confidence: relevance,
		},
		WeekBucket: "2026-W34",
		CapturedAt: time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC).Add(time.Duration(capturedOffsetMin) * time.Minute),
	}
}

func testConfig(t *testing.T) *config.MontageConfig {
	return &config.MontageConfig{
		MinDurationSec: 30,
		MaxDurationSec: 90,
		LongClipSec:    20,
		RunTimeoutSec:  60,
		MaxTranscodes:  2,
		WorkDir:        t.TempDir(),
	}
}

func runPipeline(t *testing.T, st *fakeStore, sc *fakeScorer, tc client.Transcoder, cfg *config.MontageConfig) (*model.MontageJob, *fakeStorage) {
	t.Helper()
	storage := &fakeStorage{}
	orch := NewOrchestrator(st, sc, tc, storage, websocket.NewHub(), cfg)

	job, err := st.CreateMontageJob(context.Background(), "user-1", "2026-W34")
	require.NoError(t, err)

	_ = orch.Run(context.Background(), job.ID, "user-1", "2026-W34")

	final, err := st.GetMontageJob(context.Background(), job.ID)
	require.NoError(t, err)
	return final, storage
}

func assertWorkDirClean(t *testing.T, cfg *config.MontageConfig) {
	t.Helper()
	entries, err := os.ReadDir(cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "working directory should be removed after the run")
}

func TestRunEmptyPoolFailsWithoutTranscoding(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore(nil)
	tc := &fakeTranscoder{}

	job, _ := runPipeline(t, st, &fakeScorer{}, tc, cfg)

	assert.Equal(t, model.MontageStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "No clips uploaded this week", *job.Error)
	require.NotNil(t, job.CompletedAt)
	assert.Zero(t, tc.normalizeCalls)
	assert.Zero(t, tc.concatCalls)
	assertWorkDirClean(t, cfg)
}

func TestRunHappyPath(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore([]model.Clip{
		testClip("a", 20, 0.9, 0),
		testClip("b", 15, 0.8, 10),
		testClip("c", 25, 0.7, 20),
	})

	job, storage := runPipeline(t, st, &fakeScorer{}, &fakeTranscoder{}, cfg)

	assert.Equal(t, model.MontageStatusComplete, job.Status)
	assert.Nil(t, job.Error)
	assert.Equal(t, 3, job.ClipCount)
	assert.Equal(t, 42.0, job.TotalDurationSec)
	assert.Contains(t, job.OutputURL, "montages/user-1/2026-W34/")
	assert.Contains(t, job.ThumbnailURL, ".jpg")
	require.NotNil(t, job.CompletedAt)

	assert.True(t, st.resetCalled, "weekly counter should reset after a finished montage")
	assert.Len(t, storage.uploaded, 2)
	assertWorkDirClean(t, cfg)
}

func TestRunSkipsClipsThatFailNormalization(t *testing.T) {
	cfg := testConfig(t)
	clips := []model.Clip{
		testClip("a", 15, 0.9, 0),
		testClip("b", 15, 0.85, 10),
		testClip("c", 15, 0.8, 20),
		testClip("d", 15, 0.75, 30),
		testClip("e", 15, 0.7, 40),
	}
	st := newFakeStore(clips)
	tc := &fakeTranscoder{failNormalize: map[string]bool{
		"https://signed.test/" + clips[2].SourceKey: true,
	}}

	job, _ := runPipeline(t, st, &fakeScorer{}, tc, cfg)

	assert.Equal(t, model.MontageStatusComplete, job.Status)
	assert.Equal(t, 4, job.ClipCount)
	assert.Equal(t, 5, tc.normalizeCalls)
	require.Len(t, tc.concatInputs, 4)
	assertWorkDirClean(t, cfg)
}

func TestRunFailsWhenEveryClipFailsNormalization(t *testing.T) {
	cfg := testConfig(t)
	clips := []model.Clip{
		testClip("a", 15, 0.9, 0),
		testClip("b", 15, 0.8, 10),
	}
	st := newFakeStore(clips)
	tc := &fakeTranscoder{failNormalize: map[string]bool{
		"https://signed.test/" + clips[0].SourceKey: true,
		"https://signed.test/" + clips[1].SourceKey: true,
	}}

	job, _ := runPipeline(t, st, &fakeScorer{}, tc, cfg)

	assert.Equal(t, model.MontageStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "All clips failed to normalize", *job.Error)
	assert.Zero(t, tc.concatCalls)
	assertWorkDirClean(t, cfg)
}

func TestRunCleansWorkDirOnConcatFailure(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore([]model.Clip{testClip("a", 20, 0.9, 0)})
	tc := &fakeTranscoder{concatErr: errors.New("ffmpeg crashed")}

	job, _ := runPipeline(t, st, &fakeScorer{}, tc, cfg)

	assert.Equal(t, model.MontageStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "Concatenation failed")
	assertWorkDirClean(t, cfg)
}

func TestRunUsesRedundancyHintsWhenOverBudget(t *testing.T) {
	cfg := testConfig(t)
	// 120s pool; hint names index 0 (the 40s clip), leaving 80s.
	clips := []model.Clip{
		testClip("a", 40, 0.95, 0),
		testClip("b", 30, 0.9, 10),
		testClip("c", 25, 0.85, 20),
		testClip("d", 25, 0.8, 30),
	}
	st := newFakeStore(clips)
	tc := &fakeTranscoder{}

	job, _ := runPipeline(t, st, &fakeScorer{hints: []int{0}}, tc, cfg)

	assert.Equal(t, model.MontageStatusComplete, job.Status)
	assert.Equal(t, 3, job.ClipCount)
	assert.Equal(t, 3, tc.normalizeCalls, "the hinted clip should never reach the transcoder")
}

func TestRunDegradesWhenRedundancyRankingFails(t *testing.T) {
	cfg := testConfig(t)
	clips := []model.Clip{
		testClip("a", 40, 0.95, 0),
		testClip("b", 30, 0.9, 10),
		testClip("c", 25, 0.85, 20),
		testClip("d", 25, 0.5, 30),
	}
	st := newFakeStore(clips)

	job, _ := runPipeline(t, st, &fakeScorer{hintsErr: errors.New("scorer down")}, &fakeTranscoder{}, cfg)

	// Score-floor pruning removes the two weakest clips to fit the budget;
	// the run still finishes.
	assert.Equal(t, model.MontageStatusComplete, job.Status)
	assert.Equal(t, 2, job.ClipCount)
}

func TestRunResetFailureDoesNotFailJob(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore([]model.Clip{testClip("a", 20, 0.9, 0)})
	st.resetErr = errors.New("redis timeout")

	job, _ := runPipeline(t, st, &fakeScorer{}, &fakeTranscoder{}, cfg)

	assert.Equal(t, model.MontageStatusComplete, job.Status)
}

func TestRunStagesArtifactsInWorkDir(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore([]model.Clip{testClip("a", 20, 0.9, 0)})

	var seen []string
	tc := &recordingTranscoder{fakeTranscoder: &fakeTranscoder{}, onFetch: func(dest string) {
		seen = append(seen, dest)
	}}

	job, _ := runPipeline(t, st, &fakeScorer{}, tc, cfg)

	assert.Equal(t, model.MontageStatusComplete, job.Status)
	require.Len(t, seen, 2)
	for _, dest := range seen {
		assert.Contains(t, dest, filepath.Join(cfg.WorkDir, "montage-user-1-"))
	}
	assertWorkDirClean(t, cfg)
}

func TestRunTimeoutStillReachesTerminalState(t *testing.T) {
	cfg := testConfig(t)
	inner := newFakeStore([]model.Clip{testClip("a", 20, 0.9, 0)})
	st := &deadlineStore{fakeStore: inner}
	orch := NewOrchestrator(st, &fakeScorer{}, &fakeTranscoder{}, &fakeStorage{}, websocket.NewHub(), cfg)

	job, err := inner.CreateMontageJob(context.Background(), "user-1", "2026-W34")
	require.NoError(t, err)

	// An already-expired run context stands in for a run that blew through
	// its wall-clock ceiling mid-stage.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = orch.Run(ctx, job.ID, "user-1", "2026-W34")

	final, err := inner.GetMontageJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MontageStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	require.NotNil(t, final.CompletedAt)
	assertWorkDirClean(t, cfg)
}

// deadlineStore refuses work once its context is done, the way the real
// Redis store does.
type deadlineStore struct {
	*fakeStore
}

func (s *deadlineStore) FetchClips(ctx context.Context, userID, weekBucket string) ([]model.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fakeStore.FetchClips(ctx, userID, weekBucket)
}

func (s *deadlineStore) GetMontageJob(ctx context.Context, jobID string) (*model.MontageJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fakeStore.GetMontageJob(ctx, jobID)
}

func (s *deadlineStore) UpdateMontageJob(ctx context.Context, job *model.MontageJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeStore.UpdateMontageJob(ctx, job)
}

// recordingTranscoder wraps fakeTranscoder to observe Fetch destinations.
type recordingTranscoder struct {
	*fakeTranscoder
	onFetch func(destPath string)
}

func (t *recordingTranscoder) Fetch(ctx context.Context, url, destPath string) error {
	t.onFetch(destPath)
	return t.fakeTranscoder.Fetch(ctx, url, destPath)
}

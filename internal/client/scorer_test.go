package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipreel/api/internal/config"
)

func newTestScorer(baseURL string, maxRetries int) *ScorerClient {
	return NewScorerClient(&config.ScorerConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "clipscore-vision-1",
		MaxRetries: maxRetries,
	})
}

func TestAnalyzeClipRetriesOverloadedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(ClipAnalysis{
			StartSec:    2,
			EndSec:      14,
			Description: "goal celebration",
			Relevance:   0.9,
			Quality:     0.8,
			Confidence:  0.7,
		})
	}))
	defer srv.Close()

	result, err := newTestScorer(srv.URL, 3).AnalyzeClip(context.Background(), "https://media/clip.mp4", "weekly highlights")

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "goal celebration", result.Description)
	assert.Equal(t, 0.9, result.Relevance)
}

func TestAnalyzeClipExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestScorer(srv.URL, 3).AnalyzeClip(context.Background(), "https://media/clip.mp4", "weekly highlights")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScorerOverloaded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAnalyzeClipDoesNotRetryHardErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestScorer(srv.URL, 3).AnalyzeClip(context.Background(), "https://media/clip.mp4", "weekly highlights")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrScorerOverloaded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx responses other than 429 are not retried")
}

func TestAnalyzeClipRejectsMalformedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Segment end before start: syntactically valid JSON, semantically unusable.
		json.NewEncoder(w).Encode(ClipAnalysis{
			StartSec:   10,
			EndSec:     4,
			Relevance:  0.9,
			Quality:    0.8,
			Confidence: 0.7,
		})
	}))
	defer srv.Close()

	_, err := newTestScorer(srv.URL, 3).AnalyzeClip(context.Background(), "https://media/clip.mp4", "weekly highlights")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed scorer response")
}

func TestAnalyzeClipRejectsOutOfRangeScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ClipAnalysis{
			StartSec:   0,
			EndSec:     5,
			Relevance:  1.4,
			Quality:    0.8,
			Confidence: 0.7,
		})
	}))
	defer srv.Close()

	_, err := newTestScorer(srv.URL, 3).AnalyzeClip(context.Background(), "https://media/clip.mp4", "weekly highlights")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0,1]")
}

func TestSuggestRedundantDropsInventedIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/clips/redundancy", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(redundancyResponse{Redundant: []int{1, 7, -2, 0}})
	}))
	defer srv.Close()

	hints, err := newTestScorer(srv.URL, 3).SuggestRedundant(context.Background(), []ClipSummary{
		{Index: 0, Description: "sunset timelapse"},
		{Index: 1, Description: "another sunset timelapse"},
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, hints)
}

func TestAnalyzeClipHonorsInFlightCap(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		json.NewEncoder(w).Encode(ClipAnalysis{
			StartSec:   0,
			EndSec:     5,
			Relevance:  0.5,
			Quality:    0.5,
			Confidence: 0.5,
		})
	}))
	defer srv.Close()

	c := NewScorerClient(&config.ScorerConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "clipscore-vision-1",
		MaxRetries:  3,
		MaxInFlight: 1,
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AnalyzeClip(context.Background(), "https://media/clip.mp4", "weekly highlights")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak, "calls beyond the cap should queue, not overlap")
}

func TestSuggestRedundantEmptyInput(t *testing.T) {
	hints, err := newTestScorer("http://unreachable.invalid", 3).SuggestRedundant(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, hints)
}

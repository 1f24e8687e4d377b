// Package store persists clips, montage jobs, upload jobs and weekly
// upload counters in Redis. All entities are owned here; the rest of the
// system only holds identifiers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clipreel/api/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// jobRetention keeps terminal job records inspectable for a while.
const jobRetention = 7 * 24 * time.Hour

// Store defines the persistence operations the pipeline and services use.
type Store interface {
	SaveClip(ctx context.Context, clip *model.Clip) error
	GetClip(ctx context.Context, clipID string) (*model.Clip, error)
	FetchClips(ctx context.Context, userID, weekBucket string) ([]model.Clip, error)
	DeleteClip(ctx context.Context, clip *model.Clip) error

	CreateMontageJob(ctx context.Context, userID, weekBucket string) (*model.MontageJob, error)
	GetMontageJob(ctx context.Context, jobID string) (*model.MontageJob, error)
	UpdateMontageJob(ctx context.Context, job *model.MontageJob) error
	DeleteMontageJob(ctx context.Context, jobID string) error

	SaveUploadJob(ctx context.Context, job *model.UploadJob) error
	GetUploadJob(ctx context.Context, jobID string) (*model.UploadJob, error)

	IncrUploadCount(ctx context.Context, userID, weekBucket string) (int64, error)
	GetUploadCount(ctx context.Context, userID, weekBucket string) (int64, error)
	ResetUploadCount(ctx context.Context, userID, weekBucket string) error
}

// RedisStore implements Store on a Redis client.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func clipKey(clipID string) string {
	return fmt.Sprintf("clip:%s", clipID)
}

func clipSetKey(userID, weekBucket string) string {
	return fmt.Sprintf("clips:%s:%s", userID, weekBucket)
}

func montageJobKey(jobID string) string {
	return fmt.Sprintf("job:montage:%s", jobID)
}

func uploadJobKey(jobID string) string {
	return fmt.Sprintf("job:upload:%s", jobID)
}

func uploadCountKey(userID, weekBucket string) string {
	return fmt.Sprintf("uploads:%s:%s", userID, weekBucket)
}

// SaveClip persists a clip and indexes it under its user/week bucket.
func (s *RedisStore) SaveClip(ctx context.Context, clip *model.Clip) error {
	if err := setJSON(ctx, s.redis, clipKey(clip.ID), clip, 0); err != nil {
		return fmt.Errorf("failed to save clip: %w", err)
	}
	if err := s.redis.SAdd(ctx, clipSetKey(clip.UserID, clip.WeekBucket), clip.ID).Err(); err != nil {
		return fmt.Errorf("failed to index clip: %w", err)
	}
	return nil
}

// GetClip loads a single clip record.
func (s *RedisStore) GetClip(ctx context.Context, clipID string) (*model.Clip, error) {
	var clip model.Clip
	if err := getJSON(ctx, s.redis, clipKey(clipID), &clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// FetchClips returns the user's clips for a week bucket, ordered by
// relevance score descending. Index entries whose clip record has been
// deleted are skipped.
func (s *RedisStore) FetchClips(ctx context.Context, userID, weekBucket string) ([]model.Clip, error) {
	ids, err := s.redis.SMembers(ctx, clipSetKey(userID, weekBucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}

	clips := make([]model.Clip, 0, len(ids))
	for _, id := range ids {
		var clip model.Clip
		if err := getJSON(ctx, s.redis, clipKey(id), &clip); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		clips = append(clips, clip)
	}

	sort.Slice(clips, func(i, j int) bool {
		if clips[i].Scores.Relevance != clips[j].Scores.Relevance {
			return clips[i].Scores.Relevance > clips[j].Scores.Relevance
		}
		return clips[i].ID < clips[j].ID
	})

	return clips, nil
}

// DeleteClip removes a clip record and its bucket index entry.
func (s *RedisStore) DeleteClip(ctx context.Context, clip *model.Clip) error {
	if err := s.redis.Del(ctx, clipKey(clip.ID)).Err(); err != nil {
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	if err := s.redis.SRem(ctx, clipSetKey(clip.UserID, clip.WeekBucket), clip.ID).Err(); err != nil {
		return fmt.Errorf("failed to unindex clip: %w", err)
	}
	return nil
}

// CreateMontageJob persists a new job in processing state and returns it.
// This runs before any expensive pipeline work so every failure is
// attributable to a durable id.
func (s *RedisStore) CreateMontageJob(ctx context.Context, userID, weekBucket string) (*model.MontageJob, error) {
	job := &model.MontageJob{
		ID:         uuid.New().String(),
		UserID:     userID,
		WeekBucket: weekBucket,
		Status:     model.MontageStatusProcessing,
		CreatedAt:  time.Now(),
	}
	if err := setJSON(ctx, s.redis, montageJobKey(job.ID), job, jobRetention); err != nil {
		return nil, fmt.Errorf("failed to create montage job: %w", err)
	}
	return job, nil
}

// GetMontageJob loads a montage job record.
func (s *RedisStore) GetMontageJob(ctx context.Context, jobID string) (*model.MontageJob, error) {
	var job model.MontageJob
	if err := getJSON(ctx, s.redis, montageJobKey(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateMontageJob overwrites a montage job record.
func (s *RedisStore) UpdateMontageJob(ctx context.Context, job *model.MontageJob) error {
	return setJSON(ctx, s.redis, montageJobKey(job.ID), job, jobRetention)
}

// DeleteMontageJob removes a montage job record.
func (s *RedisStore) DeleteMontageJob(ctx context.Context, jobID string) error {
	return s.redis.Del(ctx, montageJobKey(jobID)).Err()
}

// SaveUploadJob persists an upload job record.
func (s *RedisStore) SaveUploadJob(ctx context.Context, job *model.UploadJob) error {
	return setJSON(ctx, s.redis, uploadJobKey(job.JobID), job, jobRetention)
}

// GetUploadJob loads an upload job record.
func (s *RedisStore) GetUploadJob(ctx context.Context, jobID string) (*model.UploadJob, error) {
	var job model.UploadJob
	if err := getJSON(ctx, s.redis, uploadJobKey(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// IncrUploadCount bumps the user's weekly upload counter.
func (s *RedisStore) IncrUploadCount(ctx context.Context, userID, weekBucket string) (int64, error) {
	key := uploadCountKey(userID, weekBucket)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment upload count: %w", err)
	}
	if count == 1 {
		// Buckets roll weekly; two weeks covers stragglers.
		s.redis.Expire(ctx, key, 14*24*time.Hour)
	}
	return count, nil
}

// GetUploadCount reads the user's weekly upload counter.
func (s *RedisStore) GetUploadCount(ctx context.Context, userID, weekBucket string) (int64, error) {
	count, err := s.redis.Get(ctx, uploadCountKey(userID, weekBucket)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read upload count: %w", err)
	}
	return count, nil
}

// ResetUploadCount clears the user's weekly upload counter.
func (s *RedisStore) ResetUploadCount(ctx context.Context, userID, weekBucket string) error {
	return s.redis.Del(ctx, uploadCountKey(userID, weekBucket)).Err()
}

// Helper methods

func setJSON(ctx context.Context, r *redis.Client, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Set(ctx, key, data, ttl).Err()
}

func getJSON(ctx context.Context, r *redis.Client, key string, v interface{}) error {
	data, err := r.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

package model

import "time"

// UploadJob tracks a single-clip upload while background scoring runs.
// It is persisted before the upload request returns so clients can poll
// immediately.
type UploadJob struct {
	JobID       string       `json:"jobId"`
	UserID      string       `json:"userId"`
	Status      UploadStatus `json:"status"`
	ClipID      *string      `json:"clipId,omitempty"`
	Error       *string      `json:"error,omitempty"`
	SourceKey   string       `json:"sourceKey"`
	CapturedAt  time.Time    `json:"capturedAt"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// UploadClipResponse is returned by POST /api/clips.
type UploadClipResponse struct {
	JobID     string       `json:"jobId"`
	Status    UploadStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AnalyzeJobPayload is the asynq task payload for single-clip analysis.
type AnalyzeJobPayload struct {
	UserID     string    `json:"userId"`
	SourceKey  string    `json:"sourceKey"`
	Intent     string    `json:"intent,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

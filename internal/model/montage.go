package model

import "time"

// MontageJob is the persisted unit of work for one assembly run. It is
// created with status processing before any expensive work so a crash
// mid-run leaves an inspectable record. Only the pipeline mutates it.
type MontageJob struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	WeekBucket       string        `json:"weekBucket"`
	Status           MontageStatus `json:"status"`
	Error            *string       `json:"error,omitempty"`
	OutputURL        string        `json:"outputUrl,omitempty"`
	ThumbnailURL     string        `json:"thumbnailUrl,omitempty"`
	ClipCount        int           `json:"clipCount,omitempty"`
	TotalDurationSec float64       `json:"totalDurationSec,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
}

// MontageStartResponse is returned by POST /api/montage/run.
type MontageStartResponse struct {
	JobID      string        `json:"jobId"`
	Status     MontageStatus `json:"status"`
	WeekBucket string        `json:"weekBucket"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// MontageJobPayload is the asynq task payload for an assembly run.
type MontageJobPayload struct {
	UserID     string `json:"userId"`
	WeekBucket string `json:"weekBucket"`
}

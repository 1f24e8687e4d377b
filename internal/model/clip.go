package model

import "time"

// Scores holds the AI-derived quality signals for a clip, each in [0,1].
type Scores struct {
	Relevance  float64 `json:"relevance"`
	Quality    float64 `json:"quality"`
	Confidence float64 `json:"confidence"`
}

// Clip is a single scored video segment. It is immutable once created by
// the analysis worker; the only mutation afterwards is deletion.
type Clip struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	SourceKey   string    `json:"sourceKey"` // object storage key of the original media
	SourceID    string    `json:"sourceId"`  // groups clips cut from the same source video
	StartSec    float64   `json:"startSec"`
	EndSec      float64   `json:"endSec"` // half-open: EndSec > StartSec
	Description string    `json:"description"`
	Scores      Scores    `json:"scores"`
	WeekBucket  string    `json:"weekBucket"`
	CapturedAt  time.Time `json:"capturedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DurationSec returns the clip length in seconds.
func (c *Clip) DurationSec() float64 {
	return c.EndSec - c.StartSec
}

// ClipListResponse is returned by GET /api/clips.
type ClipListResponse struct {
	WeekBucket string `json:"weekBucket"`
	Clips      []Clip `json:"clips"`
}

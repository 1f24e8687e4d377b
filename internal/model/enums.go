package model

// MontageStatus tracks the lifecycle of a montage assembly run.
// The only transitions are processing → complete and processing → failed.
type MontageStatus string

const (
	MontageStatusProcessing MontageStatus = "processing"
	MontageStatusComplete   MontageStatus = "complete"
	MontageStatusFailed     MontageStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s MontageStatus) IsTerminal() bool {
	return s == MontageStatusComplete || s == MontageStatusFailed
}

// UploadStatus tracks a single-clip upload/analysis job.
type UploadStatus string

const (
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
)

// AspectRatio is the canonical output format of a montage.
type AspectRatio string

const (
	AspectPortrait  AspectRatio = "9:16"
	AspectLandscape AspectRatio = "16:9"
	AspectSquare    AspectRatio = "1:1"
)

// Video content types accepted on upload
var ValidVideoTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/x-matroska": true,
}

package jobs

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Kind string

const (
	KindDownload     Kind = "download"
	KindCompress     Kind = "compress"
	KindConvert      Kind = "convert"
	KindTrim         Kind = "trim"
	KindExtractAudio Kind = "extract_audio"
	KindWatermark    Kind = "watermark"
)

// Options carries the kind-specific knobs of a job. Which fields are
// meaningful depends on Kind; ValidateSpec enforces the pairing.
type Options struct {
	Quality           string `json:"quality,omitempty"`
	Format            string `json:"format,omitempty"`
	StartTime         string `json:"start_time,omitempty"`
	EndTime           string `json:"end_time,omitempty"`
	WatermarkText     string `json:"watermark_text,omitempty"`
	WatermarkPosition string `json:"watermark_position,omitempty"`
}

// NewJob is the submission spec accepted by the store and scheduler.
type NewJob struct {
	Kind     Kind    `json:"kind"`
	Input    string  `json:"input"`
	Platform string  `json:"platform,omitempty"`
	Options  Options `json:"options"`
}

// Job is the single source of truth record for one requested operation.
// OutputPath stays server-side; clients retrieve the file through DownloadURL.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Input       string    `json:"input"`
	Platform    string    `json:"platform,omitempty"`
	Title       string    `json:"title,omitempty"`
	Options     Options   `json:"options"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	OutputPath  string    `json:"-"`
	DownloadURL string    `json:"download_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}

package model

import "time"

// Assessment outcome values.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Assessment represents one processed video.
type Assessment struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	SourceName  string    `json:"source_name"`
	OutputPath  string    `json:"output_path"`
	Frames      int       `json:"frames"`
	FinalDamage float64   `json:"final_damage"`
	PeakDamage  float64   `json:"peak_damage"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// AssessmentFilter contains filtering options for querying assessments.
type AssessmentFilter struct {
	Username  string
	Status    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// AssessmentStats contains aggregate figures about stored assessments.
type AssessmentStats struct {
	TotalAssessments int            `json:"total_assessments"`
	TotalFrames      int64          `json:"total_frames"`
	AverageDamage    float64        `json:"average_damage"`
	PerStatus        map[string]int `json:"per_status"`
}

// FrameMetric is the damage measured on one frame of an assessment.
type FrameMetric struct {
	ID           int64   `json:"id"`
	AssessmentID string  `json:"assessment_id"`
	FrameIndex   int     `json:"frame_index"`
	Instant      float64 `json:"instant"`
	Smoothed     float64 `json:"smoothed"`
	Masks        int     `json:"masks"`
}

package dto

// Progress message types sent to live viewers.
const (
	ProgressFrame = "frame"
	ProgressDone  = "done"
)

// ProgressMessage is pushed to a user's viewers after each frame and once at the end.
type ProgressMessage struct {
	Type         string  `json:"type"`
	AssessmentID string  `json:"assessmentId"`
	Index        int     `json:"index"`
	Instant      float64 `json:"instant"`
	Smoothed     float64 `json:"smoothed"`
	Masks        int     `json:"masks"`
	Image        string  `json:"image,omitempty"` // base64 JPEG
	Status       string  `json:"status,omitempty"`
}

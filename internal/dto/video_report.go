package dto

// VideoReport is the response to a finished video upload.
type VideoReport struct {
	AssessmentID string  `json:"assessmentId"`
	Status       string  `json:"status"`
	Frames       int     `json:"frames"`
	FinalDamage  float64 `json:"finalDamage"`
	PeakDamage   float64 `json:"peakDamage"`
	OutputURL    string  `json:"outputUrl"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

package dto

import (
	"encoding/json"
	"time"
)

// AssessmentInfo is one row of the assessment history.
type AssessmentInfo struct {
	ID          string    `json:"id"`
	SourceName  string    `json:"sourceName"`
	Frames      int       `json:"frames"`
	FinalDamage float64   `json:"finalDamage"`
	PeakDamage  float64   `json:"peakDamage"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Date        time.Time `json:"date"`
	TimeOfDay   time.Time `json:"timeOfDay"`
	Duration    float64   `json:"durationSeconds"`
}

// MarshalJSON customizes JSON output for AssessmentInfo to format date and time-of-day.
func (a AssessmentInfo) MarshalJSON() ([]byte, error) {
	type Alias AssessmentInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      a.Date.Format("02-01-2006"),
		TimeOfDay: a.TimeOfDay.Format("15:04"),
		Alias:     (Alias)(a),
	})
}

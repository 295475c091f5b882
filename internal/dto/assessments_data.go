package dto

import "roaddamage/internal/model"

// AssessmentsData is a paginated response payload for the assessment history.
type AssessmentsData struct {
	Assessments []AssessmentInfo       `json:"assessments"`
	Stats       *model.AssessmentStats `json:"stats,omitempty"`
	Length      int                    `json:"length"`
	TotalPages  int                    `json:"totalPages"`
	CurrentPage int                    `json:"currentPage"`
	Limit       int                    `json:"pageSize"`
}

// FramesData lists the per-frame metrics of one assessment.
type FramesData struct {
	Assessment AssessmentInfo      `json:"assessment"`
	Frames     []model.FrameMetric `json:"frames"`
}

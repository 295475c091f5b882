package repository

import (
	"roaddamage/internal/model"
)

// AssessmentRepository defines the interface for assessment history operations.
type AssessmentRepository interface {
	// Create operations
	Insert(a *model.Assessment) error

	// Update operations
	Finish(a *model.Assessment) error

	// Read operations
	GetByID(id string) (*model.Assessment, error)
	GetAll(filter *model.AssessmentFilter) ([]model.Assessment, error)
	GetTotalCount(filter *model.AssessmentFilter) (int, error)
	GetStats(username string) (*model.AssessmentStats, error)

	// Delete operations
	Delete(id string) error
	DeleteAll() error
}

// FrameMetricRepository defines the interface for per-frame damage metrics.
type FrameMetricRepository interface {
	InsertBatch(metrics []model.FrameMetric) error
	GetByAssessmentID(assessmentID string) ([]model.FrameMetric, error)
	DeleteByAssessmentID(assessmentID string) error
}

// CredentialRepository defines the interface for the user credentials store.
type CredentialRepository interface {
	Get(username string) (model.Credential, bool)
	Put(username string, cred model.Credential) error
	Exists(username string) bool
	EmailTaken(email string) bool
	Cookie() model.CookieSettings
	Preauthorized(email string) bool
}

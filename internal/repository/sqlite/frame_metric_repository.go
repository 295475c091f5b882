package sqlite

import (
	"fmt"

	"roaddamage/internal/model"
)

// FrameMetricRepository implements repository.FrameMetricRepository for SQLite.
type FrameMetricRepository struct {
	db *DB
}

// NewFrameMetricRepository creates a new SQLite frame metric repository.
func NewFrameMetricRepository(db *DB) *FrameMetricRepository {
	return &FrameMetricRepository{db: db}
}

// InsertBatch adds multiple frame metrics in a single transaction.
func (r *FrameMetricRepository) InsertBatch(metrics []model.FrameMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO frame_metrics (assessment_id, frame_index, instant, smoothed, masks)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.Exec(m.AssessmentID, m.FrameIndex, m.Instant, m.Smoothed, m.Masks); err != nil {
			return fmt.Errorf("failed to insert frame metric: %w", err)
		}
	}

	return tx.Commit()
}

// GetByAssessmentID returns the metrics of one assessment in frame order.
func (r *FrameMetricRepository) GetByAssessmentID(assessmentID string) ([]model.FrameMetric, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, assessment_id, frame_index, instant, smoothed, masks
		FROM frame_metrics WHERE assessment_id = ?
		ORDER BY frame_index
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frame metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.FrameMetric
	for rows.Next() {
		var m model.FrameMetric
		if err := rows.Scan(&m.ID, &m.AssessmentID, &m.FrameIndex, &m.Instant, &m.Smoothed, &m.Masks); err != nil {
			return nil, fmt.Errorf("failed to scan frame metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// DeleteByAssessmentID removes all metrics of one assessment.
func (r *FrameMetricRepository) DeleteByAssessmentID(assessmentID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM frame_metrics WHERE assessment_id = ?`, assessmentID); err != nil {
		return fmt.Errorf("failed to delete frame metrics: %w", err)
	}
	return nil
}

package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"roaddamage/internal/model"
)

const assessmentColumns = `id, username, source_name, output_path, frames, final_damage, peak_damage,
	status, error, started_at, finished_at`

// AssessmentRepository implements repository.AssessmentRepository for SQLite.
type AssessmentRepository struct {
	db *DB
}

// NewAssessmentRepository creates a new SQLite assessment repository.
func NewAssessmentRepository(db *DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// Insert stores a new assessment, typically in the running state.
func (r *AssessmentRepository) Insert(a *model.Assessment) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO assessments (id, username, source_name, output_path, frames, final_damage,
			peak_damage, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Username, a.SourceName, a.OutputPath, a.Frames, a.FinalDamage,
		a.PeakDamage, a.Status, a.Error, a.StartedAt, nullTime(a.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

// Finish records the outcome of a run.
func (r *AssessmentRepository) Finish(a *model.Assessment) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		UPDATE assessments
		SET frames = ?, final_damage = ?, peak_damage = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, a.Frames, a.FinalDamage, a.PeakDamage, a.Status, a.Error, nullTime(a.FinishedAt), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update assessment: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("assessment %s not found", a.ID)
	}
	return nil
}

// GetByID retrieves an assessment by its ID; nil when absent.
func (r *AssessmentRepository) GetByID(id string) (*model.Assessment, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id)
	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return a, nil
}

// GetAll retrieves assessments matching the filter, newest first.
func (r *AssessmentRepository) GetAll(filter *model.AssessmentFilter) ([]model.Assessment, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT ` + assessmentColumns + ` FROM assessments` + where + ` ORDER BY started_at DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	var assessments []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		assessments = append(assessments, *a)
	}
	return assessments, rows.Err()
}

// GetTotalCount returns the number of assessments matching the filter.
func (r *AssessmentRepository) GetTotalCount(filter *model.AssessmentFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM assessments`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count assessments: %w", err)
	}
	return count, nil
}

// GetStats returns aggregate figures, optionally restricted to one user.
func (r *AssessmentRepository) GetStats(username string) (*model.AssessmentStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(&model.AssessmentFilter{Username: username})
	stats := &model.AssessmentStats{PerStatus: make(map[string]int)}

	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(frames), 0), COALESCE(AVG(final_damage), 0)
		FROM assessments`+where, args...).Scan(&stats.TotalAssessments, &stats.TotalFrames, &stats.AverageDamage)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate assessments: %w", err)
	}

	rows, err := r.db.Conn().Query(`SELECT status, COUNT(*) FROM assessments`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group assessments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.PerStatus[status] = count
	}
	return stats, rows.Err()
}

// Delete removes one assessment. Its frame metrics go with it through the foreign key.
func (r *AssessmentRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM assessments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}
	return nil
}

// DeleteAll removes every assessment and frame metric.
func (r *AssessmentRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM frame_metrics`); err != nil {
		return fmt.Errorf("failed to delete frame metrics: %w", err)
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM assessments`); err != nil {
		return fmt.Errorf("failed to delete assessments: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(row rowScanner) (*model.Assessment, error) {
	var a model.Assessment
	var finished sql.NullTime
	err := row.Scan(&a.ID, &a.Username, &a.SourceName, &a.OutputPath, &a.Frames, &a.FinalDamage,
		&a.PeakDamage, &a.Status, &a.Error, &a.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		a.FinishedAt = finished.Time
	}
	return &a, nil
}

func filterClause(filter *model.AssessmentFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conditions []string
	var args []interface{}

	if filter.Username != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.StartDate.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, filter.EndDate)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

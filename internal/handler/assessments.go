package handler

import (
	"net/http"

	"roaddamage/internal/apperr"
	"roaddamage/internal/dto"
	"roaddamage/internal/logger"
	"roaddamage/internal/model"
	"roaddamage/internal/repository"
	"roaddamage/internal/service"
	"roaddamage/internal/service/auth"
)

// GetAssessmentsHandler returns the caller's filtered, paginated assessment history.
func GetAssessmentsHandler(logger *logger.Logger, assessmentRepo repository.AssessmentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := auth.SessionFrom(r.Context())

		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.AssessmentFilter{
			Username:  session.Username,
			Status:    q.Get("status"),
			StartDate: parseDate(q.Get("dateAfter")),
			EndDate:   parseDate(q.Get("dateBefore")),
			Limit:     limit,
			Offset:    (page - 1) * limit,
		}
		if !filter.EndDate.IsZero() {
			// dateBefore is inclusive
			filter.EndDate = filter.EndDate.AddDate(0, 0, 1)
		}

		assessments, err := assessmentRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying assessments from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := assessmentRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting assessments: %v", err)
			totalCount = len(assessments)
		}

		stats, err := assessmentRepo.GetStats(session.Username)
		if err != nil {
			logger.Error("Error computing assessment stats: %v", err)
			stats = nil
		}

		infos := make([]dto.AssessmentInfo, 0, len(assessments))
		for _, a := range assessments {
			infos = append(infos, assessmentInfo(a))
		}

		writeJSON(w, http.StatusOK, dto.AssessmentsData{
			Assessments: infos,
			Stats:       stats,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// GetFramesHandler returns the per-frame metrics of one of the caller's assessments.
func GetFramesHandler(logger *logger.Logger, assessmentRepo repository.AssessmentRepository,
	frameRepo repository.FrameMetricRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := auth.SessionFrom(r.Context())

		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Assessment id required", http.StatusBadRequest)
			return
		}

		a, err := assessmentRepo.GetByID(id)
		if err != nil {
			writeError(w, apperr.New(apperr.IOFailure, "load assessment", err), logger)
			return
		}
		if a == nil || a.Username != session.Username {
			http.NotFound(w, r)
			return
		}

		frames, err := frameRepo.GetByAssessmentID(id)
		if err != nil {
			writeError(w, apperr.New(apperr.IOFailure, "load frame metrics", err), logger)
			return
		}

		writeJSON(w, http.StatusOK, dto.FramesData{Assessment: assessmentInfo(*a), Frames: frames}, logger)
	}
}

// DeleteAssessmentHandler removes one of the caller's assessments.
func DeleteAssessmentHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		session := auth.SessionFrom(r.Context())

		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Assessment id required", http.StatusBadRequest)
			return
		}

		if err := manager.DeleteAssessment(session.Username, id); err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id}, logger)
	}
}

func assessmentInfo(a model.Assessment) dto.AssessmentInfo {
	info := dto.AssessmentInfo{
		ID:          a.ID,
		SourceName:  a.SourceName,
		Frames:      a.Frames,
		FinalDamage: a.FinalDamage,
		PeakDamage:  a.PeakDamage,
		Status:      a.Status,
		Error:       a.Error,
		Date:        a.StartedAt.Local(),
		TimeOfDay:   a.StartedAt.Local(),
	}
	if !a.FinishedAt.IsZero() {
		info.Duration = a.FinishedAt.Sub(a.StartedAt).Seconds()
	}
	return info
}

package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/enrollment"
)

type enrollmentRepository struct {
	db *sqlx.DB
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *sqlx.DB) enrollment.Repository {
	return &enrollmentRepository{db: db}
}

// enrollmentRow is the scan target for the enrollment table. Progress entries
// live in a single JSONB document per enrollment, per-record writes stay
// atomic. The version column guards read-modify-write cycles.
type enrollmentRow struct {
	ID                   string      `db:"id"`
	LearnerID            string      `db:"learner_id"`
	CourseID             string      `db:"course_id"`
	Status               null.String `db:"status"`
	Progress             null.JSON   `db:"progress"`
	CompletionPercentage int         `db:"completion_percentage"`
	PaymentStatus        null.String `db:"payment_status"`
	PaymentAmount        float64     `db:"payment_amount"`
	Rating               null.JSON   `db:"rating"`
	EnrolledAt           null.Time   `db:"enrolled_at"`
	CompletedAt          null.Time   `db:"completed_at"`
	LastAccessedAt       null.Time   `db:"last_accessed_at"`
	CreatedAt            null.Time   `db:"created_at"`
	UpdatedAt            null.Time   `db:"updated_at"`
	Version              int         `db:"version"`
}

func (repo enrollmentRepository) toRow(enr enrollment.Enrollment) (enrollmentRow, error) {
	progress, err := json.Marshal(enr.Progress)
	if err != nil {
		return enrollmentRow{}, errors.Wrap(err, "marshaling progress")
	}
	row := enrollmentRow{
		ID:                   enr.ID,
		LearnerID:            enr.LearnerID,
		CourseID:             enr.CourseID,
		Status:               null.NewString(enr.Status, enr.Status != ""),
		Progress:             null.JSONFrom(progress),
		CompletionPercentage: enr.CompletionPercentage,
		PaymentStatus:        null.NewString(enr.PaymentStatus, enr.PaymentStatus != ""),
		PaymentAmount:        enr.PaymentAmount,
		EnrolledAt:           null.NewTime(enr.EnrolledAt.UTC(), !enr.EnrolledAt.IsZero()),
		CompletedAt:          null.TimeFromPtr(enr.CompletedAt),
		LastAccessedAt:       null.NewTime(enr.LastAccessedAt.UTC(), !enr.LastAccessedAt.IsZero()),
		CreatedAt:            null.NewTime(enr.CreatedAt.UTC(), !enr.CreatedAt.IsZero()),
		UpdatedAt:            null.NewTime(enr.UpdatedAt.UTC(), !enr.UpdatedAt.IsZero()),
		Version:              enr.Version,
	}
	if enr.Rating != nil {
		rating, err := json.Marshal(enr.Rating)
		if err != nil {
			return enrollmentRow{}, errors.Wrap(err, "marshaling rating")
		}
		row.Rating = null.JSONFrom(rating)
	}
	return row, nil
}

func (repo enrollmentRepository) toEntity(row enrollmentRow) (enrollment.Enrollment, error) {
	enr := enrollment.Enrollment{
		ID:                   row.ID,
		LearnerID:            row.LearnerID,
		CourseID:             row.CourseID,
		Status:               row.Status.String,
		Progress:             []enrollment.ProgressEntry{},
		CompletionPercentage: row.CompletionPercentage,
		PaymentStatus:        row.PaymentStatus.String,
		PaymentAmount:        row.PaymentAmount,
		EnrolledAt:           row.EnrolledAt.Time,
		CompletedAt:          row.CompletedAt.Ptr(),
		LastAccessedAt:       row.LastAccessedAt.Time,
		CreatedAt:            row.CreatedAt.Time,
		UpdatedAt:            row.UpdatedAt.Time,
		Version:              row.Version,
	}
	if row.Progress.Valid {
		if err := json.Unmarshal(row.Progress.JSON, &enr.Progress); err != nil {
			return enrollment.Enrollment{}, errors.Wrap(err, "unmarshaling progress")
		}
	}
	if row.Rating.Valid {
		if err := json.Unmarshal(row.Rating.JSON, &enr.Rating); err != nil {
			return enrollment.Enrollment{}, errors.Wrap(err, "unmarshaling rating")
		}
	}
	return enr, nil
}

func (repo enrollmentRepository) CreateEnrollment(ctx context.Context, enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	enr.ID = uuid.New().String()
	enr.Version = 1
	row, err := repo.toRow(enr)
	if err != nil {
		return enrollment.Enrollment{}, err
	}

	query := `
		INSERT INTO enrollment (id, learner_id, course_id, status, progress, completion_percentage,
			payment_status, payment_amount, rating, enrolled_at, completed_at, last_accessed_at,
			created_at, updated_at, version)
		VALUES (:id, :learner_id, :course_id, :status, :progress, :completion_percentage,
			:payment_status, :payment_amount, :rating, :enrolled_at, :completed_at, :last_accessed_at,
			:created_at, :updated_at, :version)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		// unique (learner_id, course_id) broken by a concurrent enroll
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == "23505" {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return enr, nil
}

func (repo enrollmentRepository) GetEnrollment(ctx context.Context, learnerID, courseID string) (enrollment.Enrollment, error) {
	if _, err := uuid.Parse(learnerID); err != nil {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if _, err := uuid.Parse(courseID); err != nil {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}

	var row enrollmentRow
	query := `SELECT * FROM enrollment WHERE learner_id = $1 AND course_id = $2`
	if err := repo.db.GetContext(ctx, &row, query, learnerID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return enrollment.Enrollment{}, enrollment.ErrNotFound
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "getting enrollment")
	}
	return repo.toEntity(row)
}

func (repo enrollmentRepository) SaveEnrollment(ctx context.Context, enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	row, err := repo.toRow(enr)
	if err != nil {
		return enrollment.Enrollment{}, err
	}

	// compare-and-swap on the version column; 0 rows means a concurrent
	// writer saved first (or the record is gone)
	query := `
		UPDATE enrollment
		SET status = :status, progress = :progress, completion_percentage = :completion_percentage,
			payment_status = :payment_status, payment_amount = :payment_amount, rating = :rating,
			enrolled_at = :enrolled_at, completed_at = :completed_at, last_accessed_at = :last_accessed_at,
			updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version`
	res, err := repo.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "saving enrollment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "saving enrollment")
	}
	if n == 0 {
		return enrollment.Enrollment{}, enrollment.ErrConflict
	}
	enr.Version++
	return enr, nil
}

func (repo enrollmentRepository) QueryEnrollments(
	ctx context.Context,
	filter enrollment.QueryFilter,
	ordering core.DBOrdering,
	page enrollment.Pagination,
) ([]enrollment.Enrollment, int, error) {
	where := "WHERE 1=1"
	args := make([]interface{}, 0, 3)
	if filter.LearnerID != "" {
		args = append(args, filter.LearnerID)
		where += fmt.Sprintf(" AND learner_id = $%d", len(args))
	}
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		where += fmt.Sprintf(" AND course_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var count int
	if err := repo.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM enrollment "+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting enrollments")
	}

	if ordering.Field == "" {
		ordering.Field = "enrolled_at"
	}
	args = append(args, page.PageSize, page.Offset())
	query := fmt.Sprintf(
		"SELECT * FROM enrollment %s ORDER BY %s LIMIT $%d OFFSET $%d",
		where, ordering, len(args)-1, len(args),
	)

	var rows []enrollmentRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying enrollments")
	}

	enrs := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enr, err := repo.toEntity(row)
		if err != nil {
			return nil, 0, err
		}
		enrs = append(enrs, enr)
	}
	return enrs, count, nil
}

func (repo enrollmentRepository) GetStats(ctx context.Context, courseID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM enrollment GROUP BY status`
	args := make([]interface{}, 0, 1)
	if courseID != "" {
		query = `SELECT status, COUNT(*) AS count FROM enrollment WHERE course_id = $1 GROUP BY status`
		args = append(args, courseID)
	}

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "aggregating enrollment stats")
	}

	breakdown := make(map[string]int, len(rows))
	for _, row := range rows {
		breakdown[row.Status] = row.Count
	}
	return breakdown, nil
}

func (repo enrollmentRepository) AggregateCourseRating(ctx context.Context, courseID string) (enrollment.RatingAggregate, error) {
	var row struct {
		Average null.Float64 `db:"average"`
		Count   int          `db:"count"`
	}
	query := `
		SELECT AVG((rating ->> 'score')::int) AS average, COUNT(*) AS count
		FROM enrollment
		WHERE course_id = $1 AND rating IS NOT NULL`
	if err := repo.db.GetContext(ctx, &row, query, courseID); err != nil {
		return enrollment.RatingAggregate{}, errors.Wrap(err, "aggregating course rating")
	}
	return enrollment.RatingAggregate{Average: row.Average.Float64, Count: row.Count}, nil
}

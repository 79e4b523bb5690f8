package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core/course"
)

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{db: db}
}

// courseRow is the scan target for the course table; the module/item tree is
// stored as a single JSONB document.
type courseRow struct {
	ID              string      `db:"id"`
	Title           null.String `db:"title"`
	Slug            null.String `db:"slug"`
	TeacherID       null.String `db:"teacher_id"`
	Status          null.String `db:"status"`
	Price           float64     `db:"price"`
	Modules         null.JSON   `db:"modules"`
	EnrollmentCount int         `db:"enrollment_count"`
	RatingAverage   float64     `db:"rating_average"`
	RatingCount     int         `db:"rating_count"`
	CreatedAt       null.Time   `db:"created_at"`
	UpdatedAt       null.Time   `db:"updated_at"`
}

func (repo courseRepository) toRow(crs course.Course) (courseRow, error) {
	modules, err := json.Marshal(crs.Modules)
	if err != nil {
		return courseRow{}, errors.Wrap(err, "marshaling course modules")
	}
	return courseRow{
		ID:              crs.ID,
		Title:           null.NewString(crs.Title, crs.Title != ""),
		Slug:            null.NewString(crs.Slug, crs.Slug != ""),
		TeacherID:       null.NewString(crs.TeacherID, crs.TeacherID != ""),
		Status:          null.NewString(crs.Status, crs.Status != ""),
		Price:           crs.Price,
		Modules:         null.JSONFrom(modules),
		EnrollmentCount: crs.EnrollmentCount,
		RatingAverage:   crs.RatingAverage,
		RatingCount:     crs.RatingCount,
		CreatedAt:       null.NewTime(crs.CreatedAt.UTC(), !crs.CreatedAt.IsZero()),
		UpdatedAt:       null.NewTime(crs.UpdatedAt.UTC(), !crs.UpdatedAt.IsZero()),
	}, nil
}

func (repo courseRepository) toEntity(row courseRow) (course.Course, error) {
	crs := course.Course{
		ID:              row.ID,
		Title:           row.Title.String,
		Slug:            row.Slug.String,
		TeacherID:       row.TeacherID.String,
		Status:          row.Status.String,
		Price:           row.Price,
		EnrollmentCount: row.EnrollmentCount,
		RatingAverage:   row.RatingAverage,
		RatingCount:     row.RatingCount,
		CreatedAt:       row.CreatedAt.Time,
		UpdatedAt:       row.UpdatedAt.Time,
	}
	if row.Modules.Valid {
		if err := json.Unmarshal(row.Modules.JSON, &crs.Modules); err != nil {
			return course.Course{}, errors.Wrap(err, "unmarshaling course modules")
		}
	}
	return crs, nil
}

func (repo courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	if crs.ID == "" {
		crs.ID = uuid.New().String()
	}
	row, err := repo.toRow(crs)
	if err != nil {
		return course.Course{}, err
	}
	query := `
		INSERT INTO course (id, title, slug, teacher_id, status, price, modules,
			enrollment_count, rating_average, rating_count, created_at, updated_at)
		VALUES (:id, :title, :slug, :teacher_id, :status, :price, :modules,
			:enrollment_count, :rating_average, :rating_count, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return crs, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}

	var row courseRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM course WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	return repo.toEntity(row)
}

func (repo courseRepository) AdjustEnrollmentCount(ctx context.Context, id string, delta int) error {
	query := `UPDATE course SET enrollment_count = GREATEST(enrollment_count + $2, 0) WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, delta)
	if err != nil {
		return errors.Wrap(err, "adjusting enrollment count")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo courseRepository) SetCourseRating(ctx context.Context, id string, average float64, count int) error {
	query := `UPDATE course SET rating_average = $2, rating_count = $3 WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, average, count)
	if err != nil {
		return errors.Wrap(err, "updating course rating")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return course.ErrNotFound
	}
	return nil
}

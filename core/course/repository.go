package course

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound = errors.New("course not found")
)

type Repository interface {
	CreateCourse(ctx context.Context, crs Course) (Course, error)
	GetCourse(ctx context.Context, id string) (Course, error)
	// AdjustEnrollmentCount increments (or decrements) the denormalized
	// enrollment counter by delta. Best-effort; counters may lag.
	AdjustEnrollmentCount(ctx context.Context, id string, delta int) error
	// SetCourseRating overwrites the denormalized rating aggregate.
	SetCourseRating(ctx context.Context, id string, average float64, count int) error
}

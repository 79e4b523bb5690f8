package enrollment

import (
	"context"
	"time"

	"github.com/trezcool/darasa/core"
)

// Statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
)

// Payment statuses (snapshot of the course price at enroll time)
const (
	PaymentFree     = "free"
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

var AllStatuses = []string{StatusActive, StatusCompleted, StatusPaused, StatusCancelled}

type (
	// ProgressEntry tracks a learner's interaction with a single content item.
	ProgressEntry struct {
		ItemID         string     `json:"item_id"`
		IsCompleted    bool       `json:"is_completed"`
		TimeSpent      int        `json:"time_spent"` // cumulative minutes
		CompletedAt    *time.Time `json:"completed_at"` // set on first completion, never cleared
		LastAccessedAt time.Time  `json:"last_accessed_at"`
	}

	Rating struct {
		Score   int       `json:"score"`
		Review  string    `json:"review"`
		RatedAt time.Time `json:"rated_at"`
	}

	// Enrollment records a learner's relationship to a course: status, per-item
	// progress and derived completion. Exactly one record per (learner, course)
	// pair; cancellation is a soft status change, re-enrolling reactivates the
	// same record.
	Enrollment struct {
		ID                   string          `json:"id"`
		LearnerID            string          `json:"learner_id"`
		CourseID             string          `json:"course_id"`
		Status               string          `json:"status"`
		Progress             []ProgressEntry `json:"progress"`
		CompletionPercentage int             `json:"completion_percentage"`
		PaymentStatus        string          `json:"payment_status"`
		PaymentAmount        float64         `json:"payment_amount"`
		Rating               *Rating         `json:"rating,omitempty"`
		EnrolledAt           time.Time       `json:"enrolled_at"`  // UTC
		CompletedAt          *time.Time      `json:"completed_at"` // UTC; set once on reaching 100%
		LastAccessedAt       time.Time       `json:"last_accessed_at"`
		CreatedAt            time.Time       `json:"created_at"` // UTC
		UpdatedAt            time.Time       `json:"updated_at"` // UTC

		// Version guards read-modify-write cycles; Repository.SaveEnrollment
		// only persists when the stored version matches and bumps it.
		Version int `json:"-"`
	}
)

func (e *Enrollment) IsActive() bool    { return e.Status == StatusActive }
func (e *Enrollment) IsCancelled() bool { return e.Status == StatusCancelled }

// IsRatable reports whether the learner may (re)rate this enrollment.
func (e *Enrollment) IsRatable() bool {
	return e.Status == StatusActive || e.Status == StatusCompleted
}

type (
	// QueryFilter applies AND on available fields.
	QueryFilter struct {
		LearnerID string
		CourseID  string
		Status    string
	}

	// Pagination is a 1-based page request.
	Pagination struct {
		Page     int
		PageSize int
	}

	// Stats is the aggregate status breakdown for a course (or the whole catalog).
	Stats struct {
		StatusBreakdown map[string]int `json:"status_breakdown"`
		Total           int            `json:"total"`
		CompletedCount  int            `json:"completed_count"`
		CompletionRate  float64        `json:"completion_rate"`
	}

	// RatingAggregate is the recomputed course-level average over all rated enrollments.
	RatingAggregate struct {
		Average float64
		Count   int
	}

	Repository interface {
		// CreateEnrollment fails with ErrAlreadyEnrolled if a record already
		// exists for the (learner, course) pair.
		CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, learnerID, courseID string) (Enrollment, error)
		// SaveEnrollment persists enr iff the stored Version matches enr.Version,
		// then bumps it; returns ErrConflict when a concurrent writer won.
		SaveEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		// QueryEnrollments returns a page of matches plus the unpaginated total.
		QueryEnrollments(ctx context.Context, filter QueryFilter, ordering core.DBOrdering, page Pagination) ([]Enrollment, int, error)
		// GetStats aggregates enrollment counts by status; courseID may be empty.
		GetStats(ctx context.Context, courseID string) (map[string]int, error)
		// AggregateCourseRating averages Rating.Score over the course's rated enrollments.
		AggregateCourseRating(ctx context.Context, courseID string) (RatingAggregate, error)
	}
)

func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 100 {
		p.PageSize = 10
	}
	return p
}

func (p Pagination) Offset() int { return (p.Page - 1) * p.PageSize }

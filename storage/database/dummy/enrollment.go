package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/enrollment"
)

type enrollmentRepository struct {
	db *enrollmentTable
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db.enrollment}
}

// clone detaches the record from the table so callers cannot alias stored state.
func clone(enr enrollment.Enrollment) enrollment.Enrollment {
	progress := make([]enrollment.ProgressEntry, len(enr.Progress))
	copy(progress, enr.Progress)
	enr.Progress = progress
	if enr.Rating != nil {
		rating := *enr.Rating
		enr.Rating = &rating
	}
	return enr
}

func (repo *enrollmentRepository) query() []enrollment.Enrollment {
	enrs := make([]enrollment.Enrollment, 0, len(repo.db.table))
	for _, e := range repo.db.table {
		enrs = append(enrs, clone(*e))
	}
	return enrs
}

func (repo *enrollmentRepository) CreateEnrollment(ctx context.Context, enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, e := range repo.db.table {
		if e.LearnerID == enr.LearnerID && e.CourseID == enr.CourseID {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
	}

	enr.ID = uuid.New().String()
	enr.Version = 1
	stored := clone(enr)
	repo.db.table[enr.ID] = &stored
	return enr, nil
}

func (repo *enrollmentRepository) GetEnrollment(ctx context.Context, learnerID, courseID string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, e := range repo.db.table {
		if e.LearnerID == learnerID && e.CourseID == courseID {
			return clone(*e), nil
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) SaveEnrollment(ctx context.Context, enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[enr.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if stored.Version != enr.Version {
		return enrollment.Enrollment{}, enrollment.ErrConflict
	}

	enr.Version++
	updated := clone(enr)
	repo.db.table[enr.ID] = &updated
	return enr, nil
}

func (repo *enrollmentRepository) QueryEnrollments(
	ctx context.Context,
	filter enrollment.QueryFilter,
	ordering core.DBOrdering,
	page enrollment.Pagination,
) ([]enrollment.Enrollment, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var matches []enrollment.Enrollment
	for _, e := range repo.query() {
		if filter.LearnerID != "" && e.LearnerID != filter.LearnerID {
			continue
		}
		if filter.CourseID != "" && e.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		matches = append(matches, e)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := &matches[i], &matches[j]
		var less, eq bool
		switch ordering.Field {
		case "updated_at":
			less, eq = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
		case "completion_percentage":
			less, eq = a.CompletionPercentage < b.CompletionPercentage, a.CompletionPercentage == b.CompletionPercentage
		case "status":
			less, eq = a.Status < b.Status, a.Status == b.Status
		default: // enrolled_at
			less, eq = a.EnrolledAt.Before(b.EnrolledAt), a.EnrolledAt.Equal(b.EnrolledAt)
		}
		if eq {
			return false
		}
		if ordering.Ascending {
			return less
		}
		return !less
	})

	count := len(matches)
	start := page.Offset()
	if start > count {
		start = count
	}
	end := start + page.PageSize
	if page.PageSize <= 0 || end > count {
		end = count
	}
	return matches[start:end], count, nil
}

func (repo *enrollmentRepository) GetStats(ctx context.Context, courseID string) (map[string]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	breakdown := make(map[string]int)
	for _, e := range repo.query() {
		if courseID != "" && e.CourseID != courseID {
			continue
		}
		breakdown[e.Status]++
	}
	return breakdown, nil
}

func (repo *enrollmentRepository) AggregateCourseRating(ctx context.Context, courseID string) (enrollment.RatingAggregate, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var agg enrollment.RatingAggregate
	var sum int
	for _, e := range repo.query() {
		if e.CourseID != courseID || e.Rating == nil {
			continue
		}
		sum += e.Rating.Score
		agg.Count++
	}
	if agg.Count > 0 {
		agg.Average = float64(sum) / float64(agg.Count)
	}
	return agg, nil
}

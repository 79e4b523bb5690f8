package enrollment

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("enrollment not found")
	ErrAlreadyEnrolled   = errors.New("already enrolled in this course")
	ErrAlreadyCancelled  = errors.New("enrollment is already cancelled")
	ErrCourseUnavailable = errors.New("course is not available for enrollment")
	ErrNotActive         = errors.New("enrollment is not active")
	ErrRatingNotAllowed  = errors.New("only active or completed enrollments can be rated")
	ErrConflict          = errors.New("enrollment was modified concurrently")
)

// saveAttempts bounds the optimistic-concurrency retry loop on per-record mutations.
const saveAttempts = 3

type (
	// PageResult is a page of enrollments plus the unpaginated total count.
	PageResult struct {
		Results  []Enrollment `json:"results"`
		Count    int          `json:"count"`
		Page     int          `json:"page"`
		PageSize int          `json:"page_size"`
	}

	// ProgressItemDetail is a progress entry enriched with the course's
	// module/item titles for display.
	ProgressItemDetail struct {
		ProgressEntry
		ItemTitle   string `json:"item_title"`
		ItemType    string `json:"item_type"`
		ModuleTitle string `json:"module_title"`
	}

	// Detail is an enrollment with its progress resolved against the course
	// structure. The join is a read-time enrichment, not a stored relation.
	Detail struct {
		Enrollment
		CourseTitle string               `json:"course_title"`
		Progress    []ProgressItemDetail `json:"progress"`
	}

	Service interface {
		// Enroll enrolls the principal in the course; created reports whether a
		// new record was created (false on reactivation of a cancelled one).
		Enroll(ctx context.Context, principal user.Principal, courseID string) (enr Enrollment, created bool, err error)
		UpdateProgress(ctx context.Context, principal user.Principal, learnerID, courseID, itemID string, isCompleted bool, timeSpent int) (Enrollment, error)
		Cancel(ctx context.Context, principal user.Principal, learnerID, courseID string) (Enrollment, error)
		Rate(ctx context.Context, principal user.Principal, learnerID, courseID string, score int, review string) (Enrollment, error)
		// Query lists enrollments ordered by ordering; a zero ordering defaults
		// to newest-enrolled first.
		Query(ctx context.Context, principal user.Principal, learnerID, status string, ordering core.DBOrdering, page Pagination) (PageResult, error)
		GetDetail(ctx context.Context, principal user.Principal, learnerID, courseID string) (Detail, error)
		GetStats(ctx context.Context, principal user.Principal, courseID string) (Stats, error)
	}

	service struct {
		repo       Repository
		courseRepo course.Repository
		usrRepo    user.Repository
		mailSvc    core.EmailService
		logger     core.Logger

		// dispatch runs notification side effects; asynchronous by default,
		// synchronous in the test mock.
		dispatch func(fn func())
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	courseRepo course.Repository,
	usrRepo user.Repository,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		repo:       repo,
		courseRepo: courseRepo,
		usrRepo:    usrRepo,
		mailSvc:    mailSvc,
		logger:     logger,
		dispatch:   func(fn func()) { go fn() },
	}
}

// checkAccess allows admins and the learner themself.
func checkAccess(principal user.Principal, learnerID string) error {
	if principal.IsAdmin() || principal.IsSelf(learnerID) {
		return nil
	}
	return core.ErrPermissionDenied
}

func (svc *service) Enroll(ctx context.Context, principal user.Principal, courseID string) (Enrollment, bool, error) {
	crs, err := svc.courseRepo.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, false, err
	}
	if !crs.IsPublished() {
		return Enrollment{}, false, core.NewValidationError(ErrCourseUnavailable)
	}

	existing, err := svc.repo.GetEnrollment(ctx, principal.ID, courseID)
	switch errors.Cause(err) {
	case nil:
		if !existing.IsCancelled() {
			return Enrollment{}, false, core.NewValidationError(ErrAlreadyEnrolled)
		}
		enr, err := svc.reactivate(ctx, principal.ID, courseID)
		if err != nil {
			return Enrollment{}, false, err
		}
		svc.adjustEnrollmentCount(crs.ID, +1)
		svc.dispatch(func() { svc.sendEnrollmentMail(enr, crs) })
		return enr, false, nil

	case ErrNotFound:
		enr, err := svc.createEnrollment(ctx, principal.ID, crs)
		if err != nil {
			if errors.Cause(err) == ErrAlreadyEnrolled {
				// lost the race to a concurrent enroll
				return Enrollment{}, false, core.NewValidationError(ErrAlreadyEnrolled)
			}
			return Enrollment{}, false, err
		}
		svc.adjustEnrollmentCount(crs.ID, +1)
		svc.dispatch(func() { svc.sendEnrollmentMail(enr, crs) })
		return enr, true, nil

	default:
		return Enrollment{}, false, errors.Wrap(err, "getting enrollment")
	}
}

func (svc *service) createEnrollment(ctx context.Context, learnerID string, crs course.Course) (Enrollment, error) {
	now := time.Now().UTC()
	enr := Enrollment{
		LearnerID:      learnerID,
		CourseID:       crs.ID,
		Status:         StatusActive,
		Progress:       []ProgressEntry{},
		PaymentStatus:  PaymentPending,
		PaymentAmount:  crs.Price,
		EnrolledAt:     now,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if crs.IsFree() {
		enr.PaymentStatus = PaymentFree
	}
	return svc.repo.CreateEnrollment(ctx, enr)
}

func (svc *service) reactivate(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	return svc.mutate(ctx, learnerID, courseID, func(enr *Enrollment) error {
		if !enr.IsCancelled() {
			return core.NewValidationError(ErrAlreadyEnrolled)
		}
		// progress history is retained, not reset
		enr.Status = StatusActive
		enr.EnrolledAt = time.Now().UTC()
		return nil
	})
}

func (svc *service) UpdateProgress(
	ctx context.Context,
	principal user.Principal,
	learnerID, courseID, itemID string,
	isCompleted bool,
	timeSpent int,
) (Enrollment, error) {
	if err := checkAccess(principal, learnerID); err != nil {
		return Enrollment{}, err
	}

	// completion denominator; a missing course degrades to no recompute
	// so a deleted course does not break an existing enrollment
	totalItems, haveCourse := svc.courseTotalItems(ctx, courseID)

	var justCompleted bool
	enr, err := svc.mutate(ctx, learnerID, courseID, func(enr *Enrollment) error {
		justCompleted = false
		if !enr.IsActive() {
			return core.NewValidationError(ErrNotActive)
		}
		enr.UpdateItemProgress(itemID, isCompleted, timeSpent)
		if haveCourse {
			enr.CalculateCompletion(totalItems)
		}
		justCompleted = enr.Status == StatusCompleted
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	if justCompleted {
		svc.dispatch(func() { svc.sendCompletionMail(enr) })
	}
	return enr, nil
}

func (svc *service) Cancel(ctx context.Context, principal user.Principal, learnerID, courseID string) (Enrollment, error) {
	if err := checkAccess(principal, learnerID); err != nil {
		return Enrollment{}, err
	}

	enr, err := svc.mutate(ctx, learnerID, courseID, func(enr *Enrollment) error {
		if enr.IsCancelled() {
			return core.NewValidationError(ErrAlreadyCancelled)
		}
		enr.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	svc.adjustEnrollmentCount(courseID, -1)
	return enr, nil
}

func (svc *service) Rate(
	ctx context.Context,
	principal user.Principal,
	learnerID, courseID string,
	score int,
	review string,
) (Enrollment, error) {
	// admins cannot rate on a learner's behalf
	if !principal.IsSelf(learnerID) {
		return Enrollment{}, core.ErrPermissionDenied
	}
	if score < 1 || score > 5 {
		return Enrollment{}, core.NewValidationError(nil, core.FieldError{
			Field: "score", Error: "score must be between 1 and 5",
		})
	}

	enr, err := svc.mutate(ctx, learnerID, courseID, func(enr *Enrollment) error {
		if !enr.IsRatable() {
			return core.NewValidationError(ErrRatingNotAllowed)
		}
		enr.Rating = &Rating{
			Score:   score,
			Review:  core.CleanString(review),
			RatedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	svc.refreshCourseRating(courseID)
	return enr, nil
}

// orderableFields are the columns Query accepts in an ordering; anything else
// is rejected before it can reach an ORDER BY clause.
var orderableFields = map[string]bool{
	"enrolled_at":           true,
	"updated_at":            true,
	"completion_percentage": true,
	"status":                true,
}

func (svc *service) Query(
	ctx context.Context,
	principal user.Principal,
	learnerID, status string,
	ordering core.DBOrdering,
	page Pagination,
) (PageResult, error) {
	if err := checkAccess(principal, learnerID); err != nil {
		return PageResult{}, err
	}
	if status != "" && !isValidStatus(status) {
		return PageResult{}, core.NewValidationError(nil, core.FieldError{
			Field: "status", Error: "invalid status",
		})
	}
	if ordering.Field == "" {
		ordering.Field = "enrolled_at" // newest first
	} else if !orderableFields[ordering.Field] {
		return PageResult{}, core.NewValidationError(nil, core.FieldError{
			Field: "ordering", Error: "invalid ordering field",
		})
	}

	page = page.Normalize()
	results, count, err := svc.repo.QueryEnrollments(ctx, QueryFilter{LearnerID: learnerID, Status: status}, ordering, page)
	if err != nil {
		return PageResult{}, errors.Wrap(err, "querying enrollments")
	}

	svc.refreshCompletion(ctx, results)

	return PageResult{
		Results:  results,
		Count:    count,
		Page:     page.Page,
		PageSize: page.PageSize,
	}, nil
}

// refreshCompletion lazily recomputes each enrollment's completion on read and
// persists changed rows best-effort; a lost conflict just means a concurrent
// writer already refreshed the record.
func (svc *service) refreshCompletion(ctx context.Context, enrs []Enrollment) {
	totals := make(map[string]int) // courseID: totalItems
	found := make(map[string]bool)

	for i := range enrs {
		enr := &enrs[i]
		total, cached := totals[enr.CourseID]
		if !cached {
			var ok bool
			total, ok = svc.courseTotalItems(ctx, enr.CourseID)
			totals[enr.CourseID] = total
			found[enr.CourseID] = ok
		}
		if !found[enr.CourseID] {
			continue
		}

		prevPct, prevStatus := enr.CompletionPercentage, enr.Status
		enr.CalculateCompletion(total)
		if enr.CompletionPercentage == prevPct && enr.Status == prevStatus {
			continue
		}

		saved, err := svc.repo.SaveEnrollment(ctx, *enr)
		if err != nil {
			if errors.Cause(err) != ErrConflict {
				svc.logger.Error(fmt.Sprintf("refreshing completion for enrollment %s: %v", enr.ID, err), err)
			}
			continue
		}
		*enr = saved
	}
}

func (svc *service) GetDetail(ctx context.Context, principal user.Principal, learnerID, courseID string) (Detail, error) {
	if err := checkAccess(principal, learnerID); err != nil {
		return Detail{}, err
	}

	enr, err := svc.repo.GetEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return Detail{}, err
	}

	detail := Detail{
		Enrollment: enr,
		Progress:   make([]ProgressItemDetail, 0, len(enr.Progress)),
	}

	crs, err := svc.courseRepo.GetCourse(ctx, courseID)
	if err != nil {
		// course gone; serve the enrollment un-enriched
		if errors.Cause(err) != course.ErrNotFound {
			svc.logger.Error(fmt.Sprintf("getting course %s: %v", courseID, err), err)
		}
		for _, entry := range enr.Progress {
			detail.Progress = append(detail.Progress, ProgressItemDetail{ProgressEntry: entry})
		}
		return detail, nil
	}

	detail.CourseTitle = crs.Title
	for _, entry := range enr.Progress {
		pd := ProgressItemDetail{ProgressEntry: entry}
		for _, mod := range crs.Modules {
			for _, item := range mod.Items {
				if item.ID == entry.ItemID {
					pd.ItemTitle = item.Title
					pd.ItemType = item.Type
					pd.ModuleTitle = mod.Title
				}
			}
		}
		detail.Progress = append(detail.Progress, pd)
	}
	return detail, nil
}

func (svc *service) GetStats(ctx context.Context, principal user.Principal, courseID string) (Stats, error) {
	if !principal.IsAdmin() {
		return Stats{}, core.ErrPermissionDenied
	}

	breakdown, err := svc.repo.GetStats(ctx, courseID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "aggregating enrollment stats")
	}

	stats := Stats{StatusBreakdown: breakdown}
	for _, n := range breakdown {
		stats.Total += n
	}
	stats.CompletedCount = breakdown[StatusCompleted]
	if stats.Total > 0 {
		rate := 100 * float64(stats.CompletedCount) / float64(stats.Total)
		stats.CompletionRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

// mutate runs a bounded optimistic read-modify-write cycle on the enrollment:
// each attempt re-reads the record, applies fn and saves; a version conflict
// triggers a fresh attempt so concurrent writers cannot lose updates.
func (svc *service) mutate(ctx context.Context, learnerID, courseID string, fn func(*Enrollment) error) (Enrollment, error) {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		enr, err := svc.repo.GetEnrollment(ctx, learnerID, courseID)
		if err != nil {
			return Enrollment{}, err
		}
		if err := fn(&enr); err != nil {
			return Enrollment{}, err
		}
		enr.UpdatedAt = time.Now().UTC()

		saved, err := svc.repo.SaveEnrollment(ctx, enr)
		if err == nil {
			return saved, nil
		}
		if errors.Cause(err) != ErrConflict {
			return Enrollment{}, errors.Wrap(err, "saving enrollment")
		}
		lastErr = err
	}
	return Enrollment{}, lastErr
}

func (svc *service) courseTotalItems(ctx context.Context, courseID string) (int, bool) {
	crs, err := svc.courseRepo.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Cause(err) != course.ErrNotFound {
			svc.logger.Error(fmt.Sprintf("getting course %s: %v", courseID, err), err)
		}
		return 0, false
	}
	return crs.TotalItems(), true
}

// adjustEnrollmentCount keeps the course's denormalized counter in step,
// best-effort; the counter is eventually consistent with enrollments.
func (svc *service) adjustEnrollmentCount(courseID string, delta int) {
	if err := svc.courseRepo.AdjustEnrollmentCount(context.Background(), courseID, delta); err != nil {
		svc.logger.Error(fmt.Sprintf("adjusting enrollment count for course %s: %v", courseID, err), err)
	}
}

// refreshCourseRating recomputes the course's aggregate rating, best-effort.
func (svc *service) refreshCourseRating(courseID string) {
	ctx := context.Background()
	agg, err := svc.repo.AggregateCourseRating(ctx, courseID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("aggregating rating for course %s: %v", courseID, err), err)
		return
	}
	if err := svc.courseRepo.SetCourseRating(ctx, courseID, agg.Average, agg.Count); err != nil {
		svc.logger.Error(fmt.Sprintf("updating rating for course %s: %v", courseID, err), err)
	}
}

// Emails

func (svc *service) sendEnrollmentMail(enr Enrollment, crs course.Course) {
	usr, err := svc.usrRepo.GetUser(context.Background(), user.GetFilter{ID: enr.LearnerID})
	if err != nil || usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "You are enrolled in " + crs.Title,
		TemplateName: "enrollment_confirmation",
		TemplateData: struct {
			User   user.User
			Course course.Course
		}{usr, crs},
	})
}

func (svc *service) sendCompletionMail(enr Enrollment) {
	ctx := context.Background()
	usr, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: enr.LearnerID})
	if err != nil || usr.Email == "" {
		return
	}
	crs, err := svc.courseRepo.GetCourse(ctx, enr.CourseID)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Congratulations! You completed " + crs.Title,
		TemplateName: "course_completed",
		TemplateData: struct {
			User   user.User
			Course course.Course
		}{usr, crs},
	})
}

func isValidStatus(status string) bool {
	for _, s := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

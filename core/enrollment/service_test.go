package enrollment_test

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"testing"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/database/dummy"
	"github.com/trezcool/darasa/tests"
)

var logger core.Logger

func TestMain(m *testing.M) {
	core.Conf.TestMode = true

	logger = logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), core.Conf)
	logger.Enable(false)
	core.ParseEmailTemplates(logger)

	os.Exit(m.Run())
}

type testEnv struct {
	svc        enrollment.Service
	repo       enrollment.Repository
	courseRepo course.Repository
	usrRepo    user.Repository
}

func newTestEnv(t *testing.T) testEnv {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open(): %v", err)
	}
	repo := dummydb.NewEnrollmentRepository(db)
	courseRepo := dummydb.NewCourseRepository(db)
	usrRepo := dummydb.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock()
	return testEnv{
		svc:        enrollment.NewServiceMock(repo, courseRepo, usrRepo, mailSvc, logger),
		repo:       repo,
		courseRepo: courseRepo,
		usrRepo:    usrRepo,
	}
}

func assertValidationErr(t *testing.T, err, want error) {
	t.Helper()
	vErr, ok := err.(*core.ValidationError)
	if !ok {
		t.Fatalf("error = %v (%T), want *core.ValidationError", err, err)
	}
	if want != nil && vErr.Err != want {
		t.Fatalf("error = %v, want %v", vErr.Err, want)
	}
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	emailsvc.ClearSentMessages()

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	draft := testutil.CreateCourse(t, env.courseRepo, "WIP", 0, 2, course.StatusDraft)
	principal := learner.Principal()

	// unknown course
	if _, _, err := env.svc.Enroll(ctx, principal, "deadbeef"); err != course.ErrNotFound {
		t.Errorf("Enroll() error = %v, want %v", err, course.ErrNotFound)
	}

	// unpublished course
	_, _, err := env.svc.Enroll(ctx, principal, draft.ID)
	assertValidationErr(t, err, enrollment.ErrCourseUnavailable)

	// fresh enrollment
	enr, created, err := env.svc.Enroll(ctx, principal, crs.ID)
	if err != nil {
		t.Fatalf("Enroll(): %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if enr.Status != enrollment.StatusActive {
		t.Errorf("Status = %s, want %s", enr.Status, enrollment.StatusActive)
	}
	if enr.PaymentStatus != enrollment.PaymentFree {
		t.Errorf("PaymentStatus = %s, want %s", enr.PaymentStatus, enrollment.PaymentFree)
	}
	if enr.CompletionPercentage != 0 || len(enr.Progress) != 0 {
		t.Errorf("new enrollment carries progress: %+v", enr)
	}

	// counter bumped
	crs, _ = env.courseRepo.GetCourse(ctx, crs.ID)
	if crs.EnrollmentCount != 1 {
		t.Errorf("EnrollmentCount = %d, want 1", crs.EnrollmentCount)
	}

	// confirmation mail
	if n := len(emailsvc.SentMessages); n != 1 {
		t.Fatalf("len(SentMessages) = %d, want 1", n)
	}
	if subj := emailsvc.SentMessages[0].Subject; subj != "You are enrolled in Go 101" {
		t.Errorf("Subject = %q", subj)
	}

	// enrolling twice
	_, _, err = env.svc.Enroll(ctx, principal, crs.ID)
	assertValidationErr(t, err, enrollment.ErrAlreadyEnrolled)
}

func TestService_Enroll_paidCourse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go Advanced", 49.99, 4)

	enr, _, err := env.svc.Enroll(ctx, learner.Principal(), crs.ID)
	if err != nil {
		t.Fatalf("Enroll(): %v", err)
	}
	if enr.PaymentStatus != enrollment.PaymentPending {
		t.Errorf("PaymentStatus = %s, want %s", enr.PaymentStatus, enrollment.PaymentPending)
	}
	if enr.PaymentAmount != 49.99 {
		t.Errorf("PaymentAmount = %v, want 49.99", enr.PaymentAmount)
	}
}

func TestService_UpdateProgress(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	emailsvc.ClearSentMessages()

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	other := testutil.CreateUser(t, env.usrRepo, "Bob", "bobby", "bob@test.test", "", user.LearnerRoles, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Root", "rooty", "root@test.test", "", user.AllRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	principal := learner.Principal()

	if _, _, err := env.svc.Enroll(ctx, principal, crs.ID); err != nil {
		t.Fatalf("Enroll(): %v", err)
	}

	// another learner cannot touch it
	_, err := env.svc.UpdateProgress(ctx, other.Principal(), learner.ID, crs.ID, "item-1", true, 5)
	if err != core.ErrPermissionDenied {
		t.Errorf("UpdateProgress() error = %v, want %v", err, core.ErrPermissionDenied)
	}

	// halfway there
	enr, err := env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-1", true, 10)
	if err != nil {
		t.Fatalf("UpdateProgress(): %v", err)
	}
	enr, err = env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-2", true, 15)
	if err != nil {
		t.Fatalf("UpdateProgress(): %v", err)
	}
	if enr.CompletionPercentage != 50 {
		t.Errorf("CompletionPercentage = %d, want 50", enr.CompletionPercentage)
	}
	if enr.Status != enrollment.StatusActive {
		t.Errorf("Status = %s, want %s", enr.Status, enrollment.StatusActive)
	}
	if enr.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", enr.CompletedAt)
	}

	// admins may act on the learner's behalf
	if _, err = env.svc.UpdateProgress(ctx, admin.Principal(), learner.ID, crs.ID, "item-3", true, 5); err != nil {
		t.Fatalf("UpdateProgress() as admin: %v", err)
	}

	// finishing the course flips the status and notifies, once
	emailsvc.ClearSentMessages()
	enr, err = env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-4", true, 5)
	if err != nil {
		t.Fatalf("UpdateProgress(): %v", err)
	}
	if enr.CompletionPercentage != 100 {
		t.Errorf("CompletionPercentage = %d, want 100", enr.CompletionPercentage)
	}
	if enr.Status != enrollment.StatusCompleted {
		t.Errorf("Status = %s, want %s", enr.Status, enrollment.StatusCompleted)
	}
	if enr.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if n := len(emailsvc.SentMessages); n != 1 {
		t.Fatalf("len(SentMessages) = %d, want 1", n)
	}
	if subj := emailsvc.SentMessages[0].Subject; subj != "Congratulations! You completed Go 101" {
		t.Errorf("Subject = %q", subj)
	}

	// a completed enrollment is frozen
	_, err = env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-1", false, 5)
	assertValidationErr(t, err, enrollment.ErrNotActive)

	// unknown enrollment
	_, err = env.svc.UpdateProgress(ctx, principal, learner.ID, "deadbeef", "item-1", true, 5)
	if err != enrollment.ErrNotFound {
		t.Errorf("UpdateProgress() error = %v, want %v", err, enrollment.ErrNotFound)
	}
}

func TestService_UpdateProgress_missingCourse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	// the course is gone but the enrollment survives
	enr := testutil.CreateEnrollment(t, env.repo, learner.ID, "gone", enrollment.StatusActive)

	got, err := env.svc.UpdateProgress(ctx, learner.Principal(), learner.ID, "gone", "item-1", true, 5)
	if err != nil {
		t.Fatalf("UpdateProgress(): %v", err)
	}
	if len(got.Progress) != 1 {
		t.Fatalf("len(Progress) = %d, want 1", len(got.Progress))
	}
	// no denominator, no recompute
	if got.CompletionPercentage != enr.CompletionPercentage {
		t.Errorf("CompletionPercentage = %d, want %d", got.CompletionPercentage, enr.CompletionPercentage)
	}
	if got.Status != enrollment.StatusActive {
		t.Errorf("Status = %s, want %s", got.Status, enrollment.StatusActive)
	}
}

func TestService_Cancel_and_reenroll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	principal := learner.Principal()

	enr, _, err := env.svc.Enroll(ctx, principal, crs.ID)
	if err != nil {
		t.Fatalf("Enroll(): %v", err)
	}
	if _, err = env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-1", true, 10); err != nil {
		t.Fatalf("UpdateProgress(): %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, principal, learner.ID, crs.ID)
	if err != nil {
		t.Fatalf("Cancel(): %v", err)
	}
	if cancelled.Status != enrollment.StatusCancelled {
		t.Errorf("Status = %s, want %s", cancelled.Status, enrollment.StatusCancelled)
	}
	crs, _ = env.courseRepo.GetCourse(ctx, crs.ID)
	if crs.EnrollmentCount != 0 {
		t.Errorf("EnrollmentCount = %d, want 0", crs.EnrollmentCount)
	}

	// cancelling twice
	_, err = env.svc.Cancel(ctx, principal, learner.ID, crs.ID)
	assertValidationErr(t, err, enrollment.ErrAlreadyCancelled)

	// progress is frozen while cancelled
	_, err = env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-2", true, 5)
	assertValidationErr(t, err, enrollment.ErrNotActive)

	// re-enrolling reactivates the same record, history intact
	reactivated, created, err := env.svc.Enroll(ctx, principal, crs.ID)
	if err != nil {
		t.Fatalf("Enroll(): %v", err)
	}
	if created {
		t.Error("created = true, want false (reactivation)")
	}
	if reactivated.ID != enr.ID {
		t.Errorf("ID = %s, want %s (same record)", reactivated.ID, enr.ID)
	}
	if reactivated.Status != enrollment.StatusActive {
		t.Errorf("Status = %s, want %s", reactivated.Status, enrollment.StatusActive)
	}
	if len(reactivated.Progress) != 1 {
		t.Errorf("len(Progress) = %d, want 1 (history retained)", len(reactivated.Progress))
	}
	if !reactivated.EnrolledAt.After(enr.EnrolledAt) {
		t.Errorf("EnrolledAt = %v, want after %v", reactivated.EnrolledAt, enr.EnrolledAt)
	}
}

func TestService_Rate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Root", "rooty", "root@test.test", "", user.AllRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	principal := learner.Principal()

	if _, _, err := env.svc.Enroll(ctx, principal, crs.ID); err != nil {
		t.Fatalf("Enroll(): %v", err)
	}

	// not even admins can rate on a learner's behalf
	_, err := env.svc.Rate(ctx, admin.Principal(), learner.ID, crs.ID, 5, "")
	if err != core.ErrPermissionDenied {
		t.Errorf("Rate() error = %v, want %v", err, core.ErrPermissionDenied)
	}

	// score bounds
	for _, score := range []int{0, 6} {
		_, err = env.svc.Rate(ctx, principal, learner.ID, crs.ID, score, "")
		assertValidationErr(t, err, nil)
	}

	enr, err := env.svc.Rate(ctx, principal, learner.ID, crs.ID, 4, "  Solid intro.  ")
	if err != nil {
		t.Fatalf("Rate(): %v", err)
	}
	if enr.Rating == nil || enr.Rating.Score != 4 || enr.Rating.Review != "Solid intro." {
		t.Errorf("Rating = %+v", enr.Rating)
	}

	// course aggregate refreshed
	crs, _ = env.courseRepo.GetCourse(ctx, crs.ID)
	if crs.RatingAverage != 4 || crs.RatingCount != 1 {
		t.Errorf("rating aggregate = (%v, %d), want (4, 1)", crs.RatingAverage, crs.RatingCount)
	}

	// re-rating replaces the score
	enr, err = env.svc.Rate(ctx, principal, learner.ID, crs.ID, 5, "")
	if err != nil {
		t.Fatalf("Rate(): %v", err)
	}
	if enr.Rating.Score != 5 {
		t.Errorf("Score = %d, want 5", enr.Rating.Score)
	}
	crs, _ = env.courseRepo.GetCourse(ctx, crs.ID)
	if crs.RatingAverage != 5 || crs.RatingCount != 1 {
		t.Errorf("rating aggregate = (%v, %d), want (5, 1)", crs.RatingAverage, crs.RatingCount)
	}

	// cancelled enrollments cannot be rated
	if _, err = env.svc.Cancel(ctx, principal, learner.ID, crs.ID); err != nil {
		t.Fatalf("Cancel(): %v", err)
	}
	_, err = env.svc.Rate(ctx, principal, learner.ID, crs.ID, 3, "")
	assertValidationErr(t, err, enrollment.ErrRatingNotAllowed)
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	other := testutil.CreateUser(t, env.usrRepo, "Bob", "bobby", "bob@test.test", "", user.LearnerRoles, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Root", "rooty", "root@test.test", "", user.AllRoles, true)
	principal := learner.Principal()

	courses := make([]course.Course, 0, 3)
	for _, title := range []string{"Go 101", "Go Advanced", "SQL 101"} {
		courses = append(courses, testutil.CreateCourse(t, env.courseRepo, title, 0, 2))
	}
	for _, crs := range courses {
		if _, _, err := env.svc.Enroll(ctx, principal, crs.ID); err != nil {
			t.Fatalf("Enroll(): %v", err)
		}
	}
	if _, err := env.svc.Cancel(ctx, principal, learner.ID, courses[2].ID); err != nil {
		t.Fatalf("Cancel(): %v", err)
	}
	// noise from another learner
	if _, _, err := env.svc.Enroll(ctx, other.Principal(), courses[0].ID); err != nil {
		t.Fatalf("Enroll(): %v", err)
	}

	// another learner cannot list Jane's enrollments
	if _, err := env.svc.Query(ctx, other.Principal(), learner.ID, "", core.DBOrdering{}, enrollment.Pagination{}); err != core.ErrPermissionDenied {
		t.Errorf("Query() error = %v, want %v", err, core.ErrPermissionDenied)
	}

	// invalid status filter
	_, err := env.svc.Query(ctx, principal, learner.ID, "wip", core.DBOrdering{}, enrollment.Pagination{})
	assertValidationErr(t, err, nil)

	// unknown ordering field
	_, err = env.svc.Query(ctx, principal, learner.ID, "", core.DBOrdering{Field: "password_hash"}, enrollment.Pagination{})
	assertValidationErr(t, err, nil)

	res, err := env.svc.Query(ctx, principal, learner.ID, "", core.DBOrdering{}, enrollment.Pagination{})
	if err != nil {
		t.Fatalf("Query(): %v", err)
	}
	if res.Count != 3 || len(res.Results) != 3 {
		t.Errorf("Count = %d, len = %d, want 3, 3", res.Count, len(res.Results))
	}
	if res.Page != 1 || res.PageSize != 10 {
		t.Errorf("page = (%d, %d), want (1, 10)", res.Page, res.PageSize)
	}

	// admin sees the same list
	if res, err = env.svc.Query(ctx, admin.Principal(), learner.ID, "", core.DBOrdering{}, enrollment.Pagination{}); err != nil || res.Count != 3 {
		t.Errorf("Query() as admin = (%d, %v), want (3, nil)", res.Count, err)
	}

	// status filter
	res, err = env.svc.Query(ctx, principal, learner.ID, enrollment.StatusCancelled, core.DBOrdering{}, enrollment.Pagination{})
	if err != nil {
		t.Fatalf("Query(): %v", err)
	}
	if res.Count != 1 || res.Results[0].CourseID != courses[2].ID {
		t.Errorf("cancelled page = %+v", res)
	}

	// pagination
	res, err = env.svc.Query(ctx, principal, learner.ID, "", core.DBOrdering{}, enrollment.Pagination{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("Query(): %v", err)
	}
	if res.Count != 3 || len(res.Results) != 1 {
		t.Errorf("Count = %d, len = %d, want 3, 1", res.Count, len(res.Results))
	}

	// oldest first
	res, err = env.svc.Query(ctx, principal, learner.ID, "", core.DBOrdering{Field: "enrolled_at", Ascending: true}, enrollment.Pagination{})
	if err != nil {
		t.Fatalf("Query(): %v", err)
	}
	if res.Results[0].CourseID != courses[0].ID || res.Results[2].CourseID != courses[2].ID {
		t.Errorf("ascending CourseIDs = %s..%s, want %s..%s",
			res.Results[0].CourseID, res.Results[2].CourseID, courses[0].ID, courses[2].ID)
	}
}

func TestService_Query_refreshesCompletion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 2)
	principal := learner.Principal()

	// a record persisted before the course shrank from 4 to 2 items
	enr := testutil.CreateEnrollment(t, env.repo, learner.ID, crs.ID, enrollment.StatusActive)
	enr.Progress = []enrollment.ProgressEntry{
		{ItemID: "item-1", IsCompleted: true},
		{ItemID: "item-2", IsCompleted: true},
	}
	enr.CompletionPercentage = 50
	if _, err := env.repo.SaveEnrollment(ctx, enr); err != nil {
		t.Fatalf("SaveEnrollment(): %v", err)
	}

	res, err := env.svc.Query(ctx, principal, learner.ID, "", core.DBOrdering{}, enrollment.Pagination{})
	if err != nil {
		t.Fatalf("Query(): %v", err)
	}
	got := res.Results[0]
	if got.CompletionPercentage != 100 || got.Status != enrollment.StatusCompleted {
		t.Errorf("refreshed = (%d, %s), want (100, completed)", got.CompletionPercentage, got.Status)
	}

	// the refresh was persisted
	stored, err := env.repo.GetEnrollment(ctx, learner.ID, crs.ID)
	if err != nil {
		t.Fatalf("GetEnrollment(): %v", err)
	}
	if stored.CompletionPercentage != 100 || stored.Status != enrollment.StatusCompleted {
		t.Errorf("stored = (%d, %s), want (100, completed)", stored.CompletionPercentage, stored.Status)
	}
}

func TestService_GetDetail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	other := testutil.CreateUser(t, env.usrRepo, "Bob", "bobby", "bob@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	principal := learner.Principal()

	if _, _, err := env.svc.Enroll(ctx, principal, crs.ID); err != nil {
		t.Fatalf("Enroll(): %v", err)
	}
	if _, err := env.svc.UpdateProgress(ctx, principal, learner.ID, crs.ID, "item-1", true, 10); err != nil {
		t.Fatalf("UpdateProgress(): %v", err)
	}

	if _, err := env.svc.GetDetail(ctx, other.Principal(), learner.ID, crs.ID); err != core.ErrPermissionDenied {
		t.Errorf("GetDetail() error = %v, want %v", err, core.ErrPermissionDenied)
	}

	detail, err := env.svc.GetDetail(ctx, principal, learner.ID, crs.ID)
	if err != nil {
		t.Fatalf("GetDetail(): %v", err)
	}
	if detail.CourseTitle != "Go 101" {
		t.Errorf("CourseTitle = %q, want %q", detail.CourseTitle, "Go 101")
	}
	if len(detail.Progress) != 1 {
		t.Fatalf("len(Progress) = %d, want 1", len(detail.Progress))
	}
	pd := detail.Progress[0]
	if pd.ItemTitle != "Item 1" || pd.ItemType != "video" || pd.ModuleTitle != "Module 1" {
		t.Errorf("progress detail = %+v", pd)
	}

	if _, err = env.svc.GetDetail(ctx, principal, learner.ID, "deadbeef"); err != enrollment.ErrNotFound {
		t.Errorf("GetDetail() error = %v, want %v", err, enrollment.ErrNotFound)
	}
}

func TestService_GetDetail_missingCourse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	enr := testutil.CreateEnrollment(t, env.repo, learner.ID, "gone", enrollment.StatusActive)
	enr.Progress = []enrollment.ProgressEntry{{ItemID: "item-1", IsCompleted: true}}
	if _, err := env.repo.SaveEnrollment(ctx, enr); err != nil {
		t.Fatalf("SaveEnrollment(): %v", err)
	}

	detail, err := env.svc.GetDetail(ctx, learner.Principal(), learner.ID, "gone")
	if err != nil {
		t.Fatalf("GetDetail(): %v", err)
	}
	if detail.CourseTitle != "" {
		t.Errorf("CourseTitle = %q, want empty", detail.CourseTitle)
	}
	if len(detail.Progress) != 1 || detail.Progress[0].ItemTitle != "" {
		t.Errorf("progress = %+v, want un-enriched entry", detail.Progress)
	}
}

func TestService_GetStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Root", "rooty", "root@test.test", "", user.AllRoles, true)
	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)

	testutil.CreateEnrollment(t, env.repo, learner.ID, crs.ID, enrollment.StatusCompleted)
	testutil.CreateEnrollment(t, env.repo, "l2", crs.ID, enrollment.StatusActive)
	testutil.CreateEnrollment(t, env.repo, "l3", crs.ID, enrollment.StatusActive)
	testutil.CreateEnrollment(t, env.repo, "l4", crs.ID, enrollment.StatusCancelled)
	testutil.CreateEnrollment(t, env.repo, "l5", "other-course", enrollment.StatusActive)

	// admins only
	if _, err := env.svc.GetStats(ctx, learner.Principal(), crs.ID); err != core.ErrPermissionDenied {
		t.Errorf("GetStats() error = %v, want %v", err, core.ErrPermissionDenied)
	}

	stats, err := env.svc.GetStats(ctx, admin.Principal(), crs.ID)
	if err != nil {
		t.Fatalf("GetStats(): %v", err)
	}
	if stats.Total != 4 || stats.CompletedCount != 1 {
		t.Errorf("stats = %+v, want total 4, completed 1", stats)
	}
	if stats.CompletionRate != 25 {
		t.Errorf("CompletionRate = %v, want 25", stats.CompletionRate)
	}
	if stats.StatusBreakdown[enrollment.StatusActive] != 2 || stats.StatusBreakdown[enrollment.StatusCancelled] != 1 {
		t.Errorf("StatusBreakdown = %+v", stats.StatusBreakdown)
	}

	// whole catalog
	stats, err = env.svc.GetStats(ctx, admin.Principal(), "")
	if err != nil {
		t.Fatalf("GetStats(): %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("Total = %d, want 5", stats.Total)
	}
}

// raceLookupRepo misses the pre-insert lookup so Enroll races the unique
// (learner, course) constraint.
type raceLookupRepo struct {
	enrollment.Repository
}

func (r raceLookupRepo) GetEnrollment(ctx context.Context, learnerID, courseID string) (enrollment.Enrollment, error) {
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

// conflictingSaveRepo fails the next conflicts saves before delegating.
type conflictingSaveRepo struct {
	enrollment.Repository
	conflicts int
}

func (r *conflictingSaveRepo) SaveEnrollment(ctx context.Context, enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	if r.conflicts > 0 {
		r.conflicts--
		return enrollment.Enrollment{}, enrollment.ErrConflict
	}
	return r.Repository.SaveEnrollment(ctx, enr)
}

func TestService_Enroll_concurrentCreate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	principal := learner.Principal()

	if _, _, err := env.svc.Enroll(ctx, principal, crs.ID); err != nil {
		t.Fatalf("Enroll(): %v", err)
	}

	// a lookup that misses the record sends the insert racing against the
	// existing (learner, course) pair
	svc := enrollment.NewServiceMock(raceLookupRepo{env.repo}, env.courseRepo, env.usrRepo, emailsvc.NewConsoleServiceMock(), logger)
	_, created, err := svc.Enroll(ctx, principal, crs.ID)
	assertValidationErr(t, err, enrollment.ErrAlreadyEnrolled)
	if created {
		t.Error("created = true, want false")
	}
}

func TestService_Cancel_retriesOnConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	learner := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.test", "", user.LearnerRoles, true)
	crs := testutil.CreateCourse(t, env.courseRepo, "Go 101", 0, 4)
	principal := learner.Principal()

	if _, _, err := env.svc.Enroll(ctx, principal, crs.ID); err != nil {
		t.Fatalf("Enroll(): %v", err)
	}

	// two lost races fit in the retry budget
	repo := &conflictingSaveRepo{Repository: env.repo, conflicts: 2}
	svc := enrollment.NewServiceMock(repo, env.courseRepo, env.usrRepo, emailsvc.NewConsoleServiceMock(), logger)
	enr, err := svc.Cancel(ctx, principal, learner.ID, crs.ID)
	if err != nil {
		t.Fatalf("Cancel(): %v", err)
	}
	if enr.Status != enrollment.StatusCancelled {
		t.Errorf("Status = %s, want %s", enr.Status, enrollment.StatusCancelled)
	}

	// a writer that keeps losing gives up
	if _, _, err = env.svc.Enroll(ctx, principal, crs.ID); err != nil { // reactivate
		t.Fatalf("Enroll(): %v", err)
	}
	repo.conflicts = 3
	if _, err = svc.Cancel(ctx, principal, learner.ID, crs.ID); err != enrollment.ErrConflict {
		t.Errorf("Cancel() error = %v, want %v", err, enrollment.ErrConflict)
	}
}

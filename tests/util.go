package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/course"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

// CreateCourse creates a published course with nItems content items spread
// over two modules (as evenly as possible).
func CreateCourse(
	t *testing.T,
	repo course.Repository,
	title string,
	price float64,
	nItems int,
	status ...string,
) course.Course {
	st := course.StatusPublished
	if len(status) > 0 {
		st = status[0]
	}

	items := make([]course.Item, 0, nItems)
	for i := 1; i <= nItems; i++ {
		items = append(items, course.Item{
			ID:       fmt.Sprintf("item-%d", i),
			Title:    fmt.Sprintf("Item %d", i),
			Type:     "video",
			Duration: 10,
		})
	}
	half := len(items) / 2
	modules := []course.Module{
		{ID: "mod-1", Title: "Module 1", Items: items[:half]},
		{ID: "mod-2", Title: "Module 2", Items: items[half:]},
	}

	now := time.Now().UTC()
	crs, err := repo.CreateCourse(context.Background(), course.Course{
		Title:     title,
		Status:    st,
		Price:     price,
		Modules:   modules,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateCourse(): %v", err)
	}
	return crs
}

func CreateEnrollment(
	t *testing.T,
	repo enrollment.Repository,
	learnerID, courseID, status string,
) enrollment.Enrollment {
	now := time.Now().UTC()
	enr, err := repo.CreateEnrollment(context.Background(), enrollment.Enrollment{
		LearnerID:      learnerID,
		CourseID:       courseID,
		Status:         status,
		Progress:       []enrollment.ProgressEntry{},
		PaymentStatus:  enrollment.PaymentFree,
		EnrolledAt:     now,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateEnrollment(): %v", err)
	}
	return enr
}

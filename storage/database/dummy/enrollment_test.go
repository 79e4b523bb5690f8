package dummydb

import (
	"context"
	"testing"

	"github.com/trezcool/darasa/core/enrollment"
)

func TestEnrollmentRepository_SaveEnrollment_versionConflict(t *testing.T) {
	ctx := context.Background()
	db, _ := Open()
	repo := NewEnrollmentRepository(db)

	enr, err := repo.CreateEnrollment(ctx, enrollment.Enrollment{
		LearnerID: "l1",
		CourseID:  "c1",
		Status:    enrollment.StatusActive,
	})
	if err != nil {
		t.Fatalf("CreateEnrollment(): %v", err)
	}

	// two readers grab the same version
	a, err := repo.GetEnrollment(ctx, "l1", "c1")
	if err != nil {
		t.Fatalf("GetEnrollment(): %v", err)
	}
	b, err := repo.GetEnrollment(ctx, "l1", "c1")
	if err != nil {
		t.Fatalf("GetEnrollment(): %v", err)
	}

	a.Status = enrollment.StatusCancelled
	saved, err := repo.SaveEnrollment(ctx, a)
	if err != nil {
		t.Fatalf("SaveEnrollment(): %v", err)
	}
	if saved.Version != enr.Version+1 {
		t.Errorf("Version = %d, want %d", saved.Version, enr.Version+1)
	}

	// the stale writer loses
	b.Status = enrollment.StatusPaused
	if _, err = repo.SaveEnrollment(ctx, b); err != enrollment.ErrConflict {
		t.Errorf("SaveEnrollment() error = %v, want %v", err, enrollment.ErrConflict)
	}

	// stored record kept the winner's write
	stored, err := repo.GetEnrollment(ctx, "l1", "c1")
	if err != nil {
		t.Fatalf("GetEnrollment(): %v", err)
	}
	if stored.Status != enrollment.StatusCancelled {
		t.Errorf("Status = %s, want %s", stored.Status, enrollment.StatusCancelled)
	}
}

func TestEnrollmentRepository_detachesStoredState(t *testing.T) {
	ctx := context.Background()
	db, _ := Open()
	repo := NewEnrollmentRepository(db)

	enr, err := repo.CreateEnrollment(ctx, enrollment.Enrollment{
		LearnerID: "l1",
		CourseID:  "c1",
		Status:    enrollment.StatusActive,
		Progress:  []enrollment.ProgressEntry{{ItemID: "item-1"}},
	})
	if err != nil {
		t.Fatalf("CreateEnrollment(): %v", err)
	}

	// mutating the returned copy must not leak into the table
	enr.Progress[0].IsCompleted = true
	enr.Rating = &enrollment.Rating{Score: 5}

	stored, err := repo.GetEnrollment(ctx, "l1", "c1")
	if err != nil {
		t.Fatalf("GetEnrollment(): %v", err)
	}
	if stored.Progress[0].IsCompleted {
		t.Error("progress mutation leaked into the stored record")
	}
	if stored.Rating != nil {
		t.Error("rating mutation leaked into the stored record")
	}
}

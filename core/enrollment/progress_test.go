package enrollment

import (
	"testing"
	"time"
)

func TestEnrollment_UpdateItemProgress(t *testing.T) {
	enr := Enrollment{Status: StatusActive, Progress: []ProgressEntry{}}

	// new entry, not completed
	enr.UpdateItemProgress("item-1", false, 5)
	if len(enr.Progress) != 1 {
		t.Fatalf("len(Progress) = %d, want 1", len(enr.Progress))
	}
	entry := enr.Progress[0]
	if entry.IsCompleted || entry.TimeSpent != 5 || entry.CompletedAt != nil {
		t.Errorf("entry = %+v, want incomplete, 5min, no CompletedAt", entry)
	}
	if entry.LastAccessedAt.IsZero() || enr.LastAccessedAt.IsZero() {
		t.Error("LastAccessedAt not set")
	}

	// upsert: time is cumulative, completion sets CompletedAt
	enr.UpdateItemProgress("item-1", true, 10)
	if len(enr.Progress) != 1 {
		t.Fatalf("len(Progress) = %d, want 1 (upsert)", len(enr.Progress))
	}
	entry = enr.Progress[0]
	if !entry.IsCompleted || entry.TimeSpent != 15 {
		t.Errorf("entry = %+v, want completed, 15min", entry)
	}
	if entry.CompletedAt == nil {
		t.Fatal("CompletedAt not set on completion")
	}
	completedAt := *entry.CompletedAt

	// un-completing keeps the original CompletedAt
	enr.UpdateItemProgress("item-1", false, 0)
	entry = enr.Progress[0]
	if entry.IsCompleted {
		t.Error("entry still completed")
	}
	if entry.CompletedAt == nil || !entry.CompletedAt.Equal(completedAt) {
		t.Errorf("CompletedAt = %v, want %v (never cleared)", entry.CompletedAt, completedAt)
	}

	// re-completing keeps the first CompletedAt
	enr.UpdateItemProgress("item-1", true, 0)
	entry = enr.Progress[0]
	if entry.CompletedAt == nil || !entry.CompletedAt.Equal(completedAt) {
		t.Errorf("CompletedAt = %v, want %v (set once)", entry.CompletedAt, completedAt)
	}

	// second item appended
	enr.UpdateItemProgress("item-2", true, 3)
	if len(enr.Progress) != 2 {
		t.Fatalf("len(Progress) = %d, want 2", len(enr.Progress))
	}
	if enr.CompletedItems() != 2 {
		t.Errorf("CompletedItems() = %d, want 2", enr.CompletedItems())
	}
}

func TestEnrollment_CalculateCompletion(t *testing.T) {
	completed := func(n int) []ProgressEntry {
		entries := make([]ProgressEntry, n)
		for i := range entries {
			entries[i] = ProgressEntry{ItemID: string(rune('a' + i)), IsCompleted: true}
		}
		return entries
	}

	tests := []struct {
		name       string
		enr        Enrollment
		totalItems int
		wantPct    int
		wantStatus string
	}{
		{
			name:       "no items",
			enr:        Enrollment{Status: StatusActive, CompletionPercentage: 50, Progress: completed(2)},
			totalItems: 0,
			wantPct:    0,
			wantStatus: StatusActive,
		},
		{
			name:       "half done",
			enr:        Enrollment{Status: StatusActive, Progress: completed(2)},
			totalItems: 4,
			wantPct:    50,
			wantStatus: StatusActive,
		},
		{
			name:       "rounded",
			enr:        Enrollment{Status: StatusActive, Progress: completed(1)},
			totalItems: 3,
			wantPct:    33,
			wantStatus: StatusActive,
		},
		{
			name:       "all done",
			enr:        Enrollment{Status: StatusActive, Progress: completed(4)},
			totalItems: 4,
			wantPct:    100,
			wantStatus: StatusCompleted,
		},
		{
			name:       "stray entries clamped",
			enr:        Enrollment{Status: StatusActive, Progress: completed(5)},
			totalItems: 4,
			wantPct:    100,
			wantStatus: StatusCompleted,
		},
		{
			name:       "completed never reverts",
			enr:        Enrollment{Status: StatusCompleted, Progress: completed(1)},
			totalItems: 4,
			wantPct:    25,
			wantStatus: StatusCompleted,
		},
		{
			name:       "cancelled stays cancelled",
			enr:        Enrollment{Status: StatusCancelled, Progress: completed(4)},
			totalItems: 4,
			wantPct:    100,
			wantStatus: StatusCancelled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if pct := tt.enr.CalculateCompletion(tt.totalItems); pct != tt.wantPct {
				t.Errorf("CalculateCompletion() = %d, want %d", pct, tt.wantPct)
			}
			if tt.enr.CompletionPercentage != tt.wantPct {
				t.Errorf("CompletionPercentage = %d, want %d", tt.enr.CompletionPercentage, tt.wantPct)
			}
			if tt.enr.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", tt.enr.Status, tt.wantStatus)
			}
		})
	}
}

func TestEnrollment_CalculateCompletion_completedAtSetOnce(t *testing.T) {
	enr := Enrollment{Status: StatusActive, Progress: []ProgressEntry{
		{ItemID: "item-1", IsCompleted: true},
		{ItemID: "item-2", IsCompleted: true},
	}}

	enr.CalculateCompletion(2)
	if enr.Status != StatusCompleted {
		t.Fatalf("Status = %s, want %s", enr.Status, StatusCompleted)
	}
	if enr.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	completedAt := *enr.CompletedAt

	time.Sleep(time.Millisecond)
	enr.CalculateCompletion(2) // idempotent
	if !enr.CompletedAt.Equal(completedAt) {
		t.Errorf("CompletedAt = %v, want %v (set once)", enr.CompletedAt, completedAt)
	}
}

package enrollment

import (
	"math"
	"time"
)

func (e *Enrollment) progressIndex(itemID string) int {
	for i := range e.Progress {
		if e.Progress[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// UpdateItemProgress upserts the progress entry for itemID. timeSpent minutes
// are added to the entry's cumulative total. An entry's CompletedAt is set the
// first time it transitions to completed and is never cleared afterwards, even
// if the item is later un-completed.
func (e *Enrollment) UpdateItemProgress(itemID string, isCompleted bool, timeSpent int) {
	now := time.Now().UTC()

	if i := e.progressIndex(itemID); i >= 0 {
		entry := &e.Progress[i]
		if isCompleted && entry.CompletedAt == nil {
			entry.CompletedAt = &now
		}
		entry.IsCompleted = isCompleted
		entry.TimeSpent += timeSpent
		entry.LastAccessedAt = now
	} else {
		entry := ProgressEntry{
			ItemID:         itemID,
			IsCompleted:    isCompleted,
			TimeSpent:      timeSpent,
			LastAccessedAt: now,
		}
		if isCompleted {
			entry.CompletedAt = &now
		}
		e.Progress = append(e.Progress, entry)
	}

	e.LastAccessedAt = now
}

// CompletedItems counts progress entries currently marked completed.
func (e *Enrollment) CompletedItems() int {
	var n int
	for i := range e.Progress {
		if e.Progress[i].IsCompleted {
			n++
		}
	}
	return n
}

// CalculateCompletion recomputes CompletionPercentage against the course's
// total item count and applies the one-way status ratchet: an active
// enrollment reaching 100% becomes completed (CompletedAt set once); a
// completed enrollment never reverts when the percentage later drops.
// A zero totalItems yields 0 and no status change.
func (e *Enrollment) CalculateCompletion(totalItems int) int {
	if totalItems <= 0 {
		e.CompletionPercentage = 0
		return 0
	}

	pct := int(math.Round(100 * float64(e.CompletedItems()) / float64(totalItems)))
	if pct > 100 {
		// stray progress entries not part of the course structure
		pct = 100
	}
	e.CompletionPercentage = pct

	if pct == 100 && e.Status == StatusActive {
		e.Status = StatusCompleted
		if e.CompletedAt == nil {
			now := time.Now().UTC()
			e.CompletedAt = &now
		}
	}
	return pct
}

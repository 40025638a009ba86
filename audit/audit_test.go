package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/steward/store"
)

func TestDiffReviewFields(t *testing.T) {
	base := func() *store.Task {
		return &store.Task{
			ID:       "t-1",
			Reviewer: "lead",
			Metadata: map[string]any{
				"reviewer_approved": false,
				"review_state":      "queued",
				"branch":            "worker-a/task-1",
			},
		}
	}

	t.Run("no changes", func(t *testing.T) {
		assert.Empty(t, DiffReviewFields(base(), base()))
	})

	t.Run("approval flip produces one entry", func(t *testing.T) {
		after := base()
		after.Metadata["reviewer_approved"] = true

		diffs := DiffReviewFields(base(), after)
		require.Len(t, diffs, 1)
		assert.Equal(t, "metadata.reviewer_approved", diffs[0].Field)
		assert.Equal(t, false, diffs[0].Before)
		assert.Equal(t, true, diffs[0].After)
	})

	t.Run("reviewer identity is review-sensitive", func(t *testing.T) {
		after := base()
		after.Reviewer = "other"

		diffs := DiffReviewFields(base(), after)
		require.Len(t, diffs, 1)
		assert.Equal(t, "reviewer", diffs[0].Field)
	})

	t.Run("non-review metadata is ignored", func(t *testing.T) {
		after := base()
		after.Metadata["branch"] = "worker-b/task-1"

		assert.Empty(t, DiffReviewFields(base(), after))
	})

	t.Run("multiple review fields each get an entry", func(t *testing.T) {
		after := base()
		after.Metadata["reviewer_approved"] = true
		after.Metadata["review_state"] = "approved"
		after.Metadata["reviewer_notes"] = "looks good"

		diffs := DiffReviewFields(base(), after)
		assert.Len(t, diffs, 3)
	})

	t.Run("nil metadata on one side still diffs", func(t *testing.T) {
		before := base()
		before.Metadata = nil
		after := base()

		diffs := DiffReviewFields(before, after)
		// reviewer_approved false and review_state queued both appear.
		assert.Len(t, diffs, 2)
	})
}

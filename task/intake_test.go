package task

import (
	"testing"

	"github.com/c360studio/steward/store"
)

func TestValidateIntake(t *testing.T) {
	ready := func() CreateInput {
		return CreateInput{
			Title:        "Fix login SSO state handling",
			Reviewer:     "kai",
			DoneCriteria: []string{"SSO callback handles missing state"},
		}
	}

	t.Run("ready task passes", func(t *testing.T) {
		in := ready()
		if gerr := validateIntake(&in); gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("missing fields named in one rejection", func(t *testing.T) {
		in := CreateInput{}
		gerr := validateIntake(&in)
		if gerr == nil || gerr.Status != 422 {
			t.Fatalf("expected 422, got %v", gerr)
		}
		if len(gerr.Fields) != 3 {
			t.Errorf("fields = %v", gerr.Fields)
		}
	})

	t.Run("reviewer may not be the assignee", func(t *testing.T) {
		in := ready()
		in.Assignee = "Kai"
		gerr := validateIntake(&in)
		if gerr == nil || gerr.Status != 422 {
			t.Fatalf("expected 422, got %v", gerr)
		}
	})

	t.Run("feature with one criterion rejected", func(t *testing.T) {
		in := ready()
		in.Type = store.TaskTypeFeature
		gerr := validateIntake(&in)
		if gerr == nil || gerr.Status != 422 {
			t.Fatalf("expected 422, got %v", gerr)
		}
		if len(gerr.Fields) != 1 || gerr.Fields[0] != "done_criteria" {
			t.Errorf("fields = %v", gerr.Fields)
		}
	})

	t.Run("feature with two criteria passes", func(t *testing.T) {
		in := ready()
		in.Type = store.TaskTypeFeature
		in.DoneCriteria = append(in.DoneCriteria, "no 500 in prod logs")
		if gerr := validateIntake(&in); gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})

	t.Run("bug with one criterion passes", func(t *testing.T) {
		in := ready()
		in.Type = store.TaskTypeBug
		if gerr := validateIntake(&in); gerr != nil {
			t.Fatalf("unexpected failure: %v", gerr)
		}
	})
}

func TestApplyTemplate(t *testing.T) {
	t.Run("feature template satisfies the criteria floor", func(t *testing.T) {
		in := CreateInput{Title: "Add SAML support", Reviewer: "kai", Template: "feature"}
		if err := applyTemplate(&in); err != nil {
			t.Fatalf("applyTemplate: %v", err)
		}
		if in.Type != store.TaskTypeFeature {
			t.Errorf("type = %q", in.Type)
		}
		if gerr := validateIntake(&in); gerr != nil {
			t.Fatalf("templated feature should validate: %v", gerr)
		}
	})

	t.Run("explicit fields win over the template", func(t *testing.T) {
		in := CreateInput{
			Title:        "Patch CVE",
			Reviewer:     "kai",
			Template:     "bug",
			Priority:     store.PriorityP0,
			DoneCriteria: []string{"patched"},
		}
		if err := applyTemplate(&in); err != nil {
			t.Fatalf("applyTemplate: %v", err)
		}
		if in.Priority != store.PriorityP0 {
			t.Errorf("priority = %q", in.Priority)
		}
		if len(in.DoneCriteria) != 1 {
			t.Errorf("done_criteria = %v", in.DoneCriteria)
		}
	})

	t.Run("unknown template rejected", func(t *testing.T) {
		in := CreateInput{Title: "x", Template: "epic"}
		if err := applyTemplate(&in); err == nil {
			t.Fatal("expected error")
		}
	})
}

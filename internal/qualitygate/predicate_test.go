package qualitygate

import "testing"

func TestRequiresReviewOnFileCountThreshold(t *testing.T) {
	t.Parallel()

	if RequiresReview([]string{"a.go", "b.go"}, "unrelated change") {
		t.Fatalf("expected two files with a benign description to pass without review")
	}
	if !RequiresReview([]string{"a.go", "b.go", "c.go"}, "unrelated change") {
		t.Fatalf("expected more than two files to require review")
	}
}

func TestRequiresReviewOnRiskySubstring(t *testing.T) {
	t.Parallel()

	if !RequiresReview([]string{"handler.go"}, "fix the payment flow") {
		t.Fatalf("expected a risky description to require review regardless of file count")
	}
	if !RequiresReview([]string{"internal/auth/login.go"}, "tidy up formatting") {
		t.Fatalf("expected a risky path to require review regardless of description")
	}
}

func TestRequiresReviewLeavesBenignChangesAlone(t *testing.T) {
	t.Parallel()

	if RequiresReview([]string{"internal/widgets/render.go"}, "add a tooltip") {
		t.Fatalf("expected a single benign file with a benign description to skip review")
	}
}

func TestRequiresQAMatchesRequiresReview(t *testing.T) {
	t.Parallel()

	files := []string{"a.go", "b.go", "c.go", "d.go"}
	if RequiresReview(files, "x") != RequiresQA(files, "x") {
		t.Fatalf("expected RequiresQA to use the identical predicate as RequiresReview")
	}
}

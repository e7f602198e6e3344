package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

func TestCode(t *testing.T) {
	err := errs.New(errs.ErrInsufficientFunds, "have 5.00 need 17.50")
	if got := errs.Code(err); got != errs.ErrInsufficientFunds {
		t.Fatalf("Code = %q; want INSUFFICIENT_FUNDS", got)
	}
	if errs.Code(errors.New("plain")) != "" {
		t.Fatal("plain error should have empty code")
	}
}

func TestCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("checkout: %w", errs.New(errs.ErrStateConflict, ""))
	if !errs.Is(err, errs.ErrStateConflict) {
		t.Fatal("wrapped code not found")
	}
}

func TestRetryable(t *testing.T) {
	if !errs.Retryable(errs.New(errs.ErrStateConflict, "lost race")) {
		t.Fatal("STATE_CONFLICT should be retryable")
	}
	if errs.Retryable(errs.New(errs.ErrInsufficientFunds, "")) {
		t.Fatal("INSUFFICIENT_FUNDS should not be retryable")
	}
}

func TestErrorString(t *testing.T) {
	if got := errs.New(errs.ErrNotFound, "copy").Error(); got != "NOT_FOUND: copy" {
		t.Fatalf("Error() = %q", got)
	}
	if got := errs.New(errs.ErrNotFound, "").Error(); got != "NOT_FOUND" {
		t.Fatalf("Error() = %q", got)
	}
}

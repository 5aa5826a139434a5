package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if CodeOf(NotFound("work_order", "wo-1")) != ErrCodeNotFound {
		t.Error("NotFound should carry the not-found code")
	}
	if CodeOf(fmt.Errorf("boom")) != ErrCodeInternal {
		t.Error("untagged errors default to internal")
	}

	wrapped := fmt.Errorf("request failed: %w", Forbidden("nope"))
	if CodeOf(wrapped) != ErrCodeForbidden {
		t.Error("CodeOf should see through wrapping")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Unauthenticated("no token"), http.StatusUnauthorized},
		{Forbidden("role too low"), http.StatusForbidden},
		{NotFound("session", "s1"), http.StatusNotFound},
		{Conflict("duplicate"), http.StatusConflict},
		{InvalidTransition("bad event"), http.StatusUnprocessableEntity},
		{PreconditionFailed("gate failed", nil), http.StatusUnprocessableEntity},
		{InvalidInput("date", "bad format"), http.StatusBadRequest},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestPreconditionDetail(t *testing.T) {
	detail := []string{"2024-01-01"}
	err := PreconditionFailed("open sessions", detail)

	var e *Error
	if !asError(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.Detail == nil {
		t.Fatal("detail should be preserved")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to query")

	if err.Unwrap() != cause {
		t.Error("wrapped cause should unwrap")
	}
	if CodeOf(err) != ErrCodeInternal {
		t.Error("wrapped error should keep its code")
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

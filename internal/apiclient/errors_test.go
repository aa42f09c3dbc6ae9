package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusUnauthorized:        KindUnauthorized,
		http.StatusForbidden:           KindForbidden,
		http.StatusNotFound:            KindNotFound,
		http.StatusBadRequest:          KindValidation,
		http.StatusUnprocessableEntity: KindValidation,
		http.StatusConflict:            KindConflict,
		http.StatusInternalServerError: KindServer,
		http.StatusServiceUnavailable:  KindServer,
		http.StatusOK:                  KindRejected,
		http.StatusTeapot:              KindUnexpected,
	}
	for status, want := range cases {
		if got := KindForStatus(status); got != want {
			t.Fatalf("KindForStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestErrorIsSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("load user: %w", responseError(http.StatusNotFound, nil))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("wrapped not-found must not match ErrConflict")
	}
}

func TestConflictFieldPrefersStructuredField(t *testing.T) {
	err := responseError(http.StatusConflict, []byte(`{"message":"username already taken","field":"email","code":"DUPLICATE"}`))
	if got := ConflictField(err, "username", "email"); got != "email" {
		t.Fatalf("expected structured field email, got %q", got)
	}
}

func TestConflictFieldFromCode(t *testing.T) {
	err := responseError(http.StatusConflict, []byte(`{"message":"already exists","code":"EMAIL_TAKEN"}`))
	if got := ConflictField(err, "username", "email"); got != "email" {
		t.Fatalf("expected email from code, got %q", got)
	}
}

func TestConflictFieldSniffsMessageAsFallback(t *testing.T) {
	err := responseError(http.StatusConflict, []byte(`{"message":"Username is already in use"}`))
	if got := ConflictField(err, "email", "username"); got != "username" {
		t.Fatalf("expected username from message, got %q", got)
	}

	numeric := responseError(http.StatusConflict, []byte(`{"message":"Email already registered","code":3002}`))
	if got := ConflictField(numeric, "username", "email"); got != "email" {
		t.Fatalf("expected email with numeric code, got %q", got)
	}
}

func TestConflictFieldSymbolicCodeSkipsSniffing(t *testing.T) {
	err := responseError(http.StatusConflict, []byte(`{"message":"username clash","code":"ROOM_FULL"}`))
	if got := ConflictField(err, "username"); got != "" {
		t.Fatalf("expected no field, got %q", got)
	}
}

func TestConflictFieldIgnoresOtherKinds(t *testing.T) {
	err := responseError(http.StatusBadRequest, []byte(`{"message":"email invalid","field":"email"}`))
	if got := ConflictField(err, "email"); got != "" {
		t.Fatalf("expected empty for non-conflict, got %q", got)
	}
}

func TestUserMessagePlainError(t *testing.T) {
	if got := UserMessage(errors.New("boom")); got != "boom" {
		t.Fatalf("expected boom, got %q", got)
	}
	if got := UserMessage(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

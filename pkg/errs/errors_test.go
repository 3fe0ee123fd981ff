package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("%w: dial: refused", ErrTransport), true},
		{"graphql", fmt.Errorf("%w: unknown field", ErrGraphQL), false},
		{"graphql over transport", fmt.Errorf("%w: %w", ErrTransport, ErrGraphQL), false},
		{"canceled", context.Canceled, false},
		{"timeout on transport", fmt.Errorf("%w: %w", ErrTransport, context.DeadlineExceeded), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestKind(t *testing.T) {
	if got := Kind(fmt.Errorf("%w: %w", ErrMutationFailure, ErrTransport)); got != "mutation_failure" {
		t.Fatalf("mutation over transport: got %q", got)
	}
	if got := Kind(fmt.Errorf("%w: 502", ErrTransport)); got != "transport" {
		t.Fatalf("transport: got %q", got)
	}
	if got := Kind(ErrNoData); got != "no_data" {
		t.Fatalf("no data: got %q", got)
	}
	if got := Kind(errors.New("x")); got != "unknown" {
		t.Fatalf("unknown: got %q", got)
	}
}

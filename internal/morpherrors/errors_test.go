package morpherrors

import (
	"fmt"
	"testing"
)

func TestErrorStringIncludesKindAndCause(t *testing.T) {
	err := CacheIOError("deadbeef", fmt.Errorf("disk full"))
	got := err.Error()
	want := "cache_io_error: cache I/O failed: disk full"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringWithoutCause(t *testing.T) {
	err := InvalidMorphology("zlib.morph", "unknown build-system")
	got := err.Error()
	want := "invalid_morphology: unknown build-system"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWithContextIsAccessible(t *testing.T) {
	err := BuildCommandFailed("zlib", "build", 2, nil)
	if err.Context["unit"] != "zlib" {
		t.Errorf("Context[unit] = %v, want zlib", err.Context["unit"])
	}
	if err.Context["exit_code"] != 2 {
		t.Errorf("Context[exit_code] = %v, want 2", err.Context["exit_code"])
	}
}

func TestRetryableOnlyForCacheIOError(t *testing.T) {
	if !Retryable(CacheIOError("k", fmt.Errorf("x"))) {
		t.Error("CacheIOError should be retryable")
	}
	if Retryable(InvalidMorphology("p", "bad")) {
		t.Error("InvalidMorphology should not be retryable")
	}
	if Retryable(fmt.Errorf("plain error")) {
		t.Error("a non-taxonomy error should not be retryable")
	}
}

func TestFatalToRequestForStructuralErrors(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{InvalidMorphology("p", "bad"), true},
		{DependencyCycle([]string{"a", "b"}), true},
		{UnsatisfiedDependency("gcc"), true},
		{CacheIOError("k", fmt.Errorf("x")), false},
		{BuildCommandFailed("u", "build", 1, nil), false},
	}
	for _, c := range cases {
		if got := FatalToRequest(c.err); got != c.want {
			t.Errorf("FatalToRequest(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := SourceUnavailable("repo", "ref", cause)
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the original cause")
	}
}

func TestAsExtractsTaxonomyError(t *testing.T) {
	var err error = CacheIOError("k", fmt.Errorf("x"))
	var target *Error
	if !As(err, &target) {
		t.Fatal("As should find the *Error in the chain")
	}
	if target.Kind != KindCacheIOError {
		t.Errorf("Kind = %v, want cache_io_error", target.Kind)
	}
}

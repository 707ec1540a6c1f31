package orchestrator

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{
			err:  &Error{Kind: KindRuntimeUnavailable, PackageID: 42, Err: errors.New("dial unix /var/run/docker.sock: connect: no such file")},
			want: "runtime unavailable (package 42): dial unix /var/run/docker.sock: connect: no such file",
		},
		{
			err:  &Error{Kind: KindImageBuildFailed, Version: "0.12.0", Err: errors.New("exit status 1")},
			want: "image build failed (zig 0.12.0): exit status 1",
		},
		{
			err:  &Error{Kind: KindRecordNotFound, PackageID: 7, Version: "master"},
			want: "record not found (package 7, zig master)",
		},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestError_IsAndAs(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("submit: %w", &Error{Kind: KindPersistenceFailure, PackageID: 3, Err: cause})

	if !errors.Is(err, ErrPersistenceFailure) {
		t.Error("expected errors.Is to match the kind sentinel")
	}
	if errors.Is(err, ErrRecordNotFound) {
		t.Error("errors.Is must not match a different kind")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause through Unwrap")
	}

	var oe *Error
	if !errors.As(err, &oe) {
		t.Fatal("expected errors.As to find *Error")
	}
	if oe.PackageID != 3 {
		t.Errorf("got PackageID %d, want 3", oe.PackageID)
	}
}

func TestKind_String(t *testing.T) {
	if got := Kind(99).String(); got != "kind(99)" {
		t.Errorf("unexpected unknown kind string %q", got)
	}
	if got := KindResultFileUnreadable.String(); got != "result file unreadable" {
		t.Errorf("unexpected kind string %q", got)
	}
}

package orchestrator

import (
	"fmt"
	"strings"
)

// Kind classifies orchestrator failures.
type Kind int

const (
	KindRuntimeUnavailable Kind = iota + 1
	KindImageBuildFailed
	KindProcessLaunchFailed
	KindContainerExecutionFailed
	KindResultFileUnreadable
	KindRecordNotFound
	KindPersistenceFailure
)

func (k Kind) String() string {
	switch k {
	case KindRuntimeUnavailable:
		return "runtime unavailable"
	case KindImageBuildFailed:
		return "image build failed"
	case KindProcessLaunchFailed:
		return "process launch failed"
	case KindContainerExecutionFailed:
		return "container execution failed"
	case KindResultFileUnreadable:
		return "result file unreadable"
	case KindRecordNotFound:
		return "record not found"
	case KindPersistenceFailure:
		return "persistence failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every orchestrator operation that fails. Callers
// decide whether and how to log it.
type Error struct {
	Kind      Kind
	PackageID int64
	Version   string
	Err       error
}

// Sentinels for errors.Is; only Kind is compared.
var (
	ErrRuntimeUnavailable       = &Error{Kind: KindRuntimeUnavailable}
	ErrImageBuildFailed         = &Error{Kind: KindImageBuildFailed}
	ErrProcessLaunchFailed      = &Error{Kind: KindProcessLaunchFailed}
	ErrContainerExecutionFailed = &Error{Kind: KindContainerExecutionFailed}
	ErrResultFileUnreadable     = &Error{Kind: KindResultFileUnreadable}
	ErrRecordNotFound           = &Error{Kind: KindRecordNotFound}
	ErrPersistenceFailure       = &Error{Kind: KindPersistenceFailure}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())

	var scope []string
	if e.PackageID != 0 {
		scope = append(scope, fmt.Sprintf("package %d", e.PackageID))
	}
	if e.Version != "" {
		scope = append(scope, "zig "+e.Version)
	}
	if len(scope) > 0 {
		b.WriteString(" (" + strings.Join(scope, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

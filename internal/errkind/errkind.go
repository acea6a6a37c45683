// Package errkind provides the error taxonomy shared by every component of
// the search core: a Kind classifies *what went wrong*, never *what type*,
// so that the task scheduler (C1) can decide whether a failure belongs in a
// task's error field, a fatal process exit, or a silently degraded result.
package errkind

// Kind classifies an error the way the core's components need to react to
// it, per the propagation policy: UserInput/AuthZ surface directly,
// everything else encountered inside a batch is captured on the owning
// task, and Inconsistency escalates to process-level failure.
type Kind string

const (
	// UserInput covers invalid filters, sorts, ids, unknown indexes, bad
	// parameters, unsupported media types, and malformed payloads.
	// Propagated to the caller verbatim.
	UserInput Kind = "user_input"

	// ResourceLimit covers payload-too-large, queue-full, map-size-full,
	// and no-space-left-on-device. Triggers back-pressure.
	ResourceLimit Kind = "resource_limit"

	// NotFound covers missing indexes, tasks, documents, and dumps.
	NotFound Kind = "not_found"

	// AuthZ covers missing/invalid tokens and forbidden actions or indexes.
	AuthZ Kind = "authz"

	// Conflict covers an index that already exists or a primary key that
	// is already set.
	Conflict Kind = "conflict"

	// Inconsistency is fatal in scope: corrupted task queue, missing
	// content file, unknown version. Aborts the current batch and
	// requires operator action.
	Inconsistency Kind = "inconsistency"

	// Transient covers network/storage errors during snapshotting;
	// retried with exponential backoff, surfaced only once retries are
	// exhausted.
	Transient Kind = "transient"

	// Degraded is never an error value — it is a result flag set when a
	// search's time budget is exceeded.
	Degraded Kind = "degraded"
)

// Sentinel codes forwarded from legacy dump formats that this build does
// not otherwise recognize map to UnretrievableErrorCode rather than being
// dropped silently (§7, §9 Open Questions).
const UnretrievableErrorCode = "unretrievable_error_code"

// Error is the structured error value threaded through the core. It
// satisfies errors.Is/errors.As against other *Error values compared by
// Kind and Code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Kind.String() + "[" + e.Code + "]: " + e.Message
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

func (k Kind) String() string { return string(k) }

// New constructs an *Error of the given kind.
func New(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Of reports the Kind of err, or "" if err is not (or does not wrap) an
// *Error.
func Of(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return ""
}

// Fatal reports whether err must escalate to process-level failure, i.e.
// carries the Inconsistency kind.
func Fatal(err error) bool { return Of(err) == Inconsistency }

// Retryable reports whether err is worth retrying with backoff, i.e.
// carries the Transient kind.
func Retryable(err error) bool { return Of(err) == Transient }

// as is a tiny errors.As shim kept local to avoid importing "errors" only
// for this one call site in every caller.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

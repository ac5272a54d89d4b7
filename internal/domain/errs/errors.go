package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinels for every failure kind the engine reports. Match with errors.Is.
var (
	ErrInvalidSequence       = errors.New("invalid sequence")
	ErrInvalidWindow         = errors.New("invalid window")
	ErrDegenerateWindow      = errors.New("degenerate window")
	ErrEmptyLibrary          = errors.New("empty library")
	ErrInsufficientNeighbors = errors.New("insufficient neighbors")
	ErrDuplicateID           = errors.New("duplicate id")
	ErrNotFound              = errors.New("not found")
	ErrIndexStale            = errors.New("index stale")
	ErrConfiguration         = errors.New("configuration error")
)

// Error carries the failing operation and the values needed to act on it.
type Error struct {
	Kind    error
	Op      string
	Message string
	Params  map[string]interface{}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Params) > 0 {
		keys := make([]string, 0, len(e.Params))
		for k := range e.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Params[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the sentinel kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

// WithParam attaches a single context value.
func (e *Error) WithParam(key string, value interface{}) *Error {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// Param returns a context value previously attached with WithParam.
func (e *Error) Param(key string) (interface{}, bool) {
	v, ok := e.Params[key]
	return v, ok
}

// New creates an error of the given kind.
func New(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind error, op, format string, a ...interface{}) *Error {
	return New(kind, op, fmt.Sprintf(format, a...))
}

func InvalidSequence(op, message string) *Error { return New(ErrInvalidSequence, op, message) }

func InvalidWindow(op, message string) *Error { return New(ErrInvalidWindow, op, message) }

func DegenerateWindow(op, message string) *Error { return New(ErrDegenerateWindow, op, message) }

func EmptyLibrary(op string) *Error {
	return New(ErrEmptyLibrary, op, "library has no templates")
}

func InsufficientNeighbors(op string, k, templates int) *Error {
	return Newf(ErrInsufficientNeighbors, op, "k=%d exceeds library size %d", k, templates).
		WithParam("k", k).
		WithParam("templates", templates)
}

func DuplicateID(op, id string) *Error {
	return Newf(ErrDuplicateID, op, "pattern %q already exists", id).WithParam("id", id)
}

func NotFound(op, id string) *Error {
	return Newf(ErrNotFound, op, "pattern %q not found", id).WithParam("id", id)
}

func IndexStale(op string, indexVersion, libraryVersion uint64) *Error {
	return Newf(ErrIndexStale, op, "index built at version %d, library at %d", indexVersion, libraryVersion).
		WithParam("index_version", indexVersion).
		WithParam("library_version", libraryVersion)
}

func Configuration(op, message string) *Error { return New(ErrConfiguration, op, message) }

// Configurationf creates a configuration error with a formatted message.
func Configurationf(op, format string, a ...interface{}) *Error {
	return Newf(ErrConfiguration, op, format, a...)
}

// KindOf returns the sentinel behind err, or nil when err is not an engine error.
func KindOf(err error) error {
	for _, k := range []error{
		ErrInvalidSequence, ErrInvalidWindow, ErrDegenerateWindow,
		ErrEmptyLibrary, ErrInsufficientNeighbors, ErrDuplicateID,
		ErrNotFound, ErrIndexStale, ErrConfiguration,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code maps a kind to a stable machine-readable code.
func Code(err error) string {
	switch KindOf(err) {
	case ErrInvalidSequence:
		return "ERR_INVALID_SEQUENCE"
	case ErrInvalidWindow:
		return "ERR_INVALID_WINDOW"
	case ErrDegenerateWindow:
		return "ERR_DEGENERATE_WINDOW"
	case ErrEmptyLibrary:
		return "ERR_EMPTY_LIBRARY"
	case ErrInsufficientNeighbors:
		return "ERR_INSUFFICIENT_NEIGHBORS"
	case ErrDuplicateID:
		return "ERR_DUPLICATE_ID"
	case ErrNotFound:
		return "ERR_NOT_FOUND"
	case ErrIndexStale:
		return "ERR_INDEX_STALE"
	case ErrConfiguration:
		return "ERR_CONFIGURATION"
	default:
		return "ERR_INTERNAL"
	}
}

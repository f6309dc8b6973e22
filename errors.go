package rattler

import (
	"errors"
	"strings"
)

// Error is the rattler-go error domain type.
//
// Errors coming from rattler-go components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of rattler-go components should create an Error at the system
// boundary (e.g. when using an HTTP client or reading a file) and
// intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. That is to say, use [fmt.Errorf] with a
// "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrConflict,
		ErrInternal,
		ErrInvalid,
		ErrPrecondition,
		ErrTransient,
		ErrPermanent:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	switch kind {
	case ErrVersionDependent:
		return !errors.Is(e, ErrTransient) && !errors.Is(e, ErrPermanent)
	default:
	}
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If an error is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	ErrConflict     = ErrorKind("conflict")     // conflicting action
	ErrInternal     = ErrorKind("internal")     // non-specific internal error
	ErrInvalid      = ErrorKind("invalid")      // invalid request
	ErrPrecondition = ErrorKind("precondition") // some precondition unfulfilled
	ErrTransient    = ErrorKind("transient")    // may succeed on retry
	ErrPermanent    = ErrorKind("permanent")    // will never succeed

	// ErrVersionDependent should only be used for an [Is] comparison.
	// It's true for any error that's not marked as transient or permanent.
	ErrVersionDependent = ErrorKind("version dependent") // neither transient nor permanent, may not error in a future version
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// Discriminant is a stable machine-readable identifier for a specific error
// cause within a [Kind] family, per the error taxonomy in section 7 of the
// design notes: parse errors, cache errors, gateway errors, install errors,
// and validation errors each carry one.
type Discriminant string

// Parse error discriminants.
const (
	DiscInvalidVersion     Discriminant = "InvalidVersion"
	DiscInvalidMatchSpec   Discriminant = "InvalidMatchSpec"
	DiscInvalidPackageName Discriminant = "InvalidPackageName"
	DiscInvalidUrl         Discriminant = "InvalidUrl"
	DiscInvalidPlatform    Discriminant = "InvalidPlatform"
)

// Cache error discriminants.
const (
	DiscCacheValidation Discriminant = "CacheValidation"
	DiscFetchFailed     Discriminant = "FetchFailed"
	DiscCancelled       Discriminant = "Cancelled"
)

// Gateway error discriminants.
const (
	DiscUnsupportedScheme Discriminant = "UnsupportedScheme"
	DiscSubdirNotFound    Discriminant = "SubdirNotFound"
	DiscIoError           Discriminant = "IoError"
	DiscDecodingError     Discriminant = "DecodingError"
	DiscNotFound          Discriminant = "NotFound"
)

// Install error discriminants.
const (
	DiscLinkFailed            Discriminant = "LinkFailed"
	DiscPostProcessFailed     Discriminant = "PostProcessFailed"
	DiscReadPathsJson         Discriminant = "ReadPathsJson"
	DiscTargetPrefixNotUtf8   Discriminant = "TargetPrefixNotUtf8"
	DiscCreateTargetDirFailed Discriminant = "CreateTargetDirFailed"
)

// Validation error discriminants.
const (
	DiscValidationNotFound         Discriminant = "NotFound"
	DiscValidationExpectedSymlink  Discriminant = "ExpectedSymlink"
	DiscValidationExpectedDir      Discriminant = "ExpectedDirectory"
	DiscValidationIncorrectSize    Discriminant = "IncorrectSize"
	DiscValidationHashMismatch     Discriminant = "HashMismatch"
	DiscValidationIo               Discriminant = "Io"
)

// DomainError pairs an [ErrorKind] durability classification with a stable
// [Discriminant] and enough context to build a human-readable message,
// mirroring the {path, reason} shape used for CacheValidation and LinkFailed
// in the design notes.
type DomainError struct {
	Inner   error
	Kind    ErrorKind
	Disc    Discriminant
	Path    string
	Reason  string
	Op      string
}

var (
	_ error                       = (*DomainError)(nil)
	_ interface{ Is(error) bool } = (*DomainError)(nil)
	_ interface{ Unwrap() error } = (*DomainError)(nil)
)

func (e *DomainError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Disc))
	if e.Path != "" {
		b.WriteString(" path=")
		b.WriteString(e.Path)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

func (e *DomainError) Is(target error) bool {
	if d, ok := target.(Discriminant); ok {
		return e.Disc == d
	}
	return errors.Is(e.Kind, target)
}

func (e *DomainError) Unwrap() error { return e.Inner }

func (d Discriminant) Error() string { return string(d) }

package katana

import engine "github.com/alexqqqqqq777/BlitzArch/internal/katana"

// Kind classifies an Error into the taxonomy spec §7 mandates, so
// external CLI/GUI consumers can branch on failure class without
// parsing error strings.
type Kind int

const (
	KindIO Kind = iota + 1
	KindBadMagic
	KindUnsupportedVersion
	KindMalformedFooter
	KindMalformedIndex
	KindCrcMismatch
	KindAuthFailure
	KindCorruptEntry
	KindUnsafePath
	KindDuplicateEntry
	KindBudgetExceeded
	KindCancelled
	KindOther
)

var engineKindToKind = map[engine.Kind]Kind{
	engine.KindIO:                 KindIO,
	engine.KindBadMagic:           KindBadMagic,
	engine.KindUnsupportedVersion: KindUnsupportedVersion,
	engine.KindMalformedFooter:    KindMalformedFooter,
	engine.KindMalformedIndex:     KindMalformedIndex,
	engine.KindCrcMismatch:        KindCrcMismatch,
	engine.KindAuthFailure:        KindAuthFailure,
	engine.KindCorruptEntry:       KindCorruptEntry,
	engine.KindUnsafePath:         KindUnsafePath,
	engine.KindDuplicateEntry:     KindDuplicateEntry,
	engine.KindBudgetExceeded:     KindBudgetExceeded,
	engine.KindCancelled:          KindCancelled,
}

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindBadMagic:
		return "BadMagic"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindMalformedFooter:
		return "MalformedFooter"
	case KindMalformedIndex:
		return "MalformedIndex"
	case KindCrcMismatch:
		return "CrcMismatch"
	case KindAuthFailure:
		return "AuthFailure"
	case KindCorruptEntry:
		return "CorruptEntry"
	case KindUnsafePath:
		return "UnsafePath"
	case KindDuplicateEntry:
		return "DuplicateEntry"
	case KindBudgetExceeded:
		return "BudgetExceeded"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Other"
	}
}

// Error is the public error type returned by Create, Extract and
// List. Authentication failures always stringify to a fixed message,
// never revealing whether an HMAC, a GCM tag, or a post-decrypt CRC
// check failed.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindAuthFailure {
		return "katana: authentication failure"
	}
	if e.Path != "" && e.Err != nil {
		return "katana: " + e.Kind.String() + ": " + e.Path + ": " + e.Err.Error()
	}
	if e.Path != "" {
		return "katana: " + e.Kind.String() + ": " + e.Path
	}
	if e.Err != nil {
		return "katana: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "katana: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrAuthFailure) style sentinel comparisons
// based solely on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Path == "" && t.Err == nil
}

// Sentinel values usable with errors.Is.
var (
	ErrBadMagic           = &Error{Kind: KindBadMagic}
	ErrUnsupportedVersion = &Error{Kind: KindUnsupportedVersion}
	ErrCrcMismatch        = &Error{Kind: KindCrcMismatch}
	ErrAuthFailure        = &Error{Kind: KindAuthFailure}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

// fromEngine converts an internal/katana error into the public Error
// taxonomy. Errors the engine never produces (should not happen, but
// guards against a future internal error that forgets to tag itself)
// fall back to KindOther rather than panicking.
func fromEngine(err error) error {
	if err == nil {
		return nil
	}
	eerr, ok := err.(*engine.Error)
	if !ok {
		return &Error{Kind: KindOther, Err: err}
	}
	kind, ok := engineKindToKind[eerr.Kind]
	if !ok {
		kind = KindOther
	}
	return &Error{Kind: kind, Path: eerr.Path, Err: eerr.Err}
}

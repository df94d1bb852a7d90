package pump

import "fmt"

// Kind classifies a terminal condition at the core boundary so callers can
// tell setup failures from mid-session transport trouble from clean stops.
type Kind int

const (
	// SetupFailed covers anything that keeps the session from ever
	// starting: invalid descriptor, non-blocking flag failure, malformed
	// or timed-out handshake, exhausted IP pool.
	SetupFailed Kind = iota
	// Transient is a per-frame send/receive failure. It is logged and
	// ignored on the uplink; the downlink currently treats its own
	// receive errors as Terminal (see the open question on directional
	// asymmetry).
	Transient
	// Terminal ends the session: TUN EOF, TUN write error, downlink
	// receive error, or an explicit stop.
	Terminal
)

func (k Kind) String() string {
	switch k {
	case SetupFailed:
		return "SetupFailed"
	case Transient:
		return "Transient"
	case Terminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with its Kind, so %w unwrapping still
// reaches the original error while callers can switch on Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind, or returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

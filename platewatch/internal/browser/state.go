package browser

// State is the lifecycle state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateAuthenticating
	StateLive
	StateDegraded
	StateDead
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

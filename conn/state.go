package conn

// State is one stage of the connection lifecycle (spec.md §4.3). States
// only ever move forward through stateOrder; Disconnected is terminal.
type State int

const (
	StateNew State = iota
	StateConnected
	StateHandshake
	StateSupported
	StateReady
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnected:
		return "Connected"
	case StateHandshake:
		return "Handshake"
	case StateSupported:
		return "Supported"
	case StateReady:
		return "Ready"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

var stateOrder = map[State]int{
	StateNew:           0,
	StateConnected:      1,
	StateHandshake:      2,
	StateSupported:      3,
	StateReady:          4,
	StateDisconnecting:  5,
	StateDisconnected:   6,
}

var allStateNames = []string{
	StateNew.String(), StateConnected.String(), StateHandshake.String(),
	StateSupported.String(), StateReady.String(), StateDisconnecting.String(),
	StateDisconnected.String(),
}

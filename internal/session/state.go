// Package session tracks live playbacks: the registry of admitted sessions
// with their state machines and counters, the consumers that satisfy client
// polling before and after a session exists, and the crash detector that
// turns activity timestamps into health verdicts.
package session

import "strings"

// State is a session's position in its lifecycle.
type State int

const (
	// StateAdmitting means the session passed admission but the encoder
	// has not produced its first byte yet.
	StateAdmitting State = iota

	// StateStreaming means bytes are flowing to the client.
	StateStreaming

	// StateMonitoring means the client is still polling but the byte
	// stream has gone quiet; the session may recover to streaming.
	StateMonitoring

	// StateStopping means teardown has begun and the encoder is being
	// brought down.
	StateStopping

	// StateTerminated means the encoder has exited and all counters are
	// final.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAdmitting:
		return "admitting"
	case StateStreaming:
		return "streaming"
	case StateMonitoring:
		return "monitoring"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	switch str {
	case "admitting":
		*s = StateAdmitting
	case "streaming":
		*s = StateStreaming
	case "monitoring":
		*s = StateMonitoring
	case "stopping":
		*s = StateStopping
	case "terminated":
		*s = StateTerminated
	default:
		*s = StateAdmitting
	}
	return nil
}

// Active reports whether the session still owns resources: anything before
// terminated counts against admission limits.
func (s State) Active() bool {
	return s != StateTerminated
}

// Live reports whether the session is delivering, or expected to deliver,
// media. A stopping session is not live and no longer blocks the same
// client from reconnecting to the channel.
func (s State) Live() bool {
	return s == StateAdmitting || s == StateStreaming || s == StateMonitoring
}

// EndReason names why a session was torn down.
type EndReason string

const (
	EndReasonDisconnect  EndReason = "client_disconnect"
	EndReasonIdleTimeout EndReason = "idle_timeout"
	EndReasonProcessExit EndReason = "process_exit"
	EndReasonAdmin       EndReason = "admin_terminated"
	EndReasonCrash       EndReason = "crash_confirmed"
	EndReasonMaxAge      EndReason = "max_age"
	EndReasonStartFailed EndReason = "start_failed"
	EndReasonShutdown    EndReason = "shutdown"
)

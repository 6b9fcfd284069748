package domain

// AgentState is the supervisor-visible lifecycle state of one feed agent.
//
//	Connecting -> Streaming -> Disconnected -> Connecting (backoff)
//	Disconnected -> Failed (after max consecutive failures, terminal)
//	any        -> Stopped (cooperative shutdown only)
type AgentState int32

const (
	AgentConnecting AgentState = iota
	AgentStreaming
	AgentDisconnected
	AgentFailed
	AgentStopped
)

func (s AgentState) String() string {
	switch s {
	case AgentConnecting:
		return "connecting"
	case AgentStreaming:
		return "streaming"
	case AgentDisconnected:
		return "disconnected"
	case AgentFailed:
		return "failed"
	case AgentStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

package crawler

// State is the crawl loop's lifecycle phase
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateAwaitingChallengeResponse
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateAwaitingChallengeResponse:
		return "awaiting_challenge_response"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopReason records why the loop left Running
type StopReason string

const (
	StopShutdown  StopReason = "shutdown"
	StopFatal     StopReason = "fatal"
	StopNoSources StopReason = "no_sources"
	StopPanic     StopReason = "panic"
)

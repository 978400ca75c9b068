package retry

import (
	"fmt"
	"sort"
	"time"
)

// API error codes with a recovery policy
const (
	CodeUnknown        = 1
	CodeTooManyPerSec  = 6
	CodeInternal       = 10
	CodeCaptcha        = 14
	CodeRateLimitQuota = 29
)

// Action is what the crawl loop does after an API error
type Action int

const (
	// ActionSleep waits Policy.Delay
	ActionSleep Action = iota
	// ActionRateSleep waits the loop's rate sleep interval
	ActionRateSleep
	// ActionSlowDown forces pacing before the next request and
	// permanently grows the pacing interval by Policy.Delay
	ActionSlowDown
	// ActionChallenge blocks for an operator to solve a captcha
	ActionChallenge
	// ActionFatal stops the loop
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionSleep:
		return "sleep"
	case ActionRateSleep:
		return "rate_sleep"
	case ActionSlowDown:
		return "slow_down"
	case ActionChallenge:
		return "challenge"
	case ActionFatal:
		return "fatal"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Policy is one row of the error code table
type Policy struct {
	Code   int
	Name   string
	Action Action
	Delay  time.Duration
}

// PolicyTable maps API error codes to policies. Codes without an entry
// are fatal.
type PolicyTable struct {
	policies map[int]Policy
}

// DefaultPolicies returns the standard table. transient is the wait for
// unknown and internal server errors.
func DefaultPolicies(transient time.Duration) *PolicyTable {
	return NewPolicyTable(
		Policy{Code: CodeUnknown, Name: "unknown error", Action: ActionSleep, Delay: transient},
		Policy{Code: CodeTooManyPerSec, Name: "too many requests per second", Action: ActionSlowDown, Delay: time.Second},
		Policy{Code: CodeInternal, Name: "internal server error", Action: ActionSleep, Delay: transient},
		Policy{Code: CodeCaptcha, Name: "captcha needed", Action: ActionChallenge},
		Policy{Code: CodeRateLimitQuota, Name: "rate limit reached", Action: ActionRateSleep},
	)
}

// NewPolicyTable builds a table from explicit policies
func NewPolicyTable(policies ...Policy) *PolicyTable {
	t := &PolicyTable{policies: make(map[int]Policy, len(policies))}
	for _, p := range policies {
		t.policies[p.Code] = p
	}
	return t
}

// Lookup returns the policy for code
func (t *PolicyTable) Lookup(code int) Policy {
	if p, ok := t.policies[code]; ok {
		return p
	}
	return Policy{Code: code, Name: "unhandled error", Action: ActionFatal}
}

// Codes returns the codes with an explicit policy, in ascending order
func (t *PolicyTable) Codes() []int {
	codes := make([]int, 0, len(t.policies))
	for code := range t.policies {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

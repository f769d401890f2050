package supervisor

// State is a supervisor lifecycle position.
type State string

const (
	StateStarting               State = "STARTING"
	StateRunning                State = "RUNNING"
	StateLicenseFailureDetected State = "LICENSE_FAILURE_DETECTED"
	StateRetryWait              State = "RETRY_WAIT"
	StateRetriesExhausted       State = "RETRIES_EXHAUSTED"
	StateChildExited            State = "CHILD_EXITED"
)

// Terminal reports whether the supervisor stops in s.
func (s State) Terminal() bool {
	return s == StateRetriesExhausted || s == StateChildExited
}

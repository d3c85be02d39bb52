package core

// Outcome labels what the dispatcher did with a delivery.
type Outcome string

const (
	OutcomeDispatched   Outcome = "dispatched"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeLaunchFailed Outcome = "launch_failed"
)

// Metrics receives dispatcher observations. Implementations must be safe for
// concurrent use; Ack results are reported from worker goroutines.
type Metrics interface {
	ConnectAttempt(err error)
	LinkLost()
	StateChanged(s State)
	Delivery(outcome Outcome)
	AckResult(op string, err error)
	WorkersActive(n int)
}

type nopMetrics struct{}

func (nopMetrics) ConnectAttempt(error)    {}
func (nopMetrics) LinkLost()               {}
func (nopMetrics) StateChanged(State)      {}
func (nopMetrics) Delivery(Outcome)        {}
func (nopMetrics) AckResult(string, error) {}
func (nopMetrics) WorkersActive(int)       {}

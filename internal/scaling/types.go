package scaling

// Action represents a scaling decision action.
type Action string

const (
	// ActionScaleUp indicates more workers should be added.
	ActionScaleUp Action = "scale_up"

	// ActionScaleDown indicates workers should be removed.
	ActionScaleDown Action = "scale_down"

	// ActionNone indicates no change is needed.
	ActionNone Action = "none"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Decision is the result of evaluating the policy against the current
// backlog and worker count.
type Decision struct {
	// Action is the recommended scaling action.
	Action Action

	// Delta is the number of workers to add (positive) or remove (negative).
	// Zero when Action is ActionNone.
	Delta int

	// Target is the worker count after applying Delta.
	Target int

	// Reason is a human-readable explanation of the decision.
	Reason string
}

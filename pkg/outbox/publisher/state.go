package publisher

// State is the publisher's position in its wake cycle:
// Idle → WaitingForSignal → Draining → PublishingBatch → Idle.
type State int32

const (
	StateIdle State = iota
	StateWaitingForSignal
	StateDraining
	StatePublishingBatch
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForSignal:
		return "waiting_for_signal"
	case StateDraining:
		return "draining"
	case StatePublishingBatch:
		return "publishing_batch"
	default:
		return "unknown"
	}
}

package indexer

// State is the lifecycle position of a Pipeline.
type State int32

const (
	StateCreated State = iota
	StateBackfilling
	StateSubscribing
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBackfilling:
		return "backfilling"
	case StateSubscribing:
		return "subscribing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the pipeline has finished.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

package gen

// AsyncState is the asynchrony of a generated method. It starts unknown and
// is settled once, at the end of arrangement.
type AsyncState int

const (
	// AsyncUnknown is the state before arrangement.
	AsyncUnknown AsyncState = iota
	// AsyncSynchronous means no frame in the method awaits a task.
	AsyncSynchronous
	// AsyncAsynchronous means at least one frame awaits a task.
	AsyncAsynchronous
)

func (s AsyncState) String() string {
	switch s {
	case AsyncSynchronous:
		return "synchronous"
	case AsyncAsynchronous:
		return "asynchronous"
	default:
		return "unknown"
	}
}

// markAsync moves the state to asynchronous. There is no way back.
func (s *AsyncState) markAsync() {
	*s = AsyncAsynchronous
}

// resolve settles an unknown state as synchronous.
func (s *AsyncState) resolve() {
	if *s == AsyncUnknown {
		*s = AsyncSynchronous
	}
}

package logging

type EventKind uint8

const (
	_ EventKind = iota
	EventLog
	EventTick
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "LOG"
	case EventTick:
		return "TICK"
	default:
		return "INVALID"
	}
}

// Event is what flows through the pipeline channel: either a record or a
// payload-free tick.
type Event struct {
	Kind   EventKind
	Record LogRecord
}

func LogEvent(r LogRecord) Event {
	return Event{Kind: EventLog, Record: r}
}

func TickEvent() Event {
	return Event{Kind: EventTick}
}

func (e Event) IsTick() bool {
	return e.Kind == EventTick
}

package conversation

import "github.com/m3rciful/formbot/internal/session"

// Event is what a single inbound message amounts to once it has been classified
// and, for free text, validated.
type Event int

const (
	EventStart Event = iota
	EventReset
	EventDelete
	EventConnect
	EventList
	EventUnknownCommand
	// EventText is free text that no stage is waiting for.
	EventText
	// EventAccepted is free text the current stage consumed successfully.
	EventAccepted
	// EventRejected is free text that failed validation.
	EventRejected
)

var eventNames = [...]string{
	EventStart:          "start",
	EventReset:          "reset",
	EventDelete:         "delete",
	EventConnect:        "connect",
	EventList:           "list",
	EventUnknownCommand: "unknown_command",
	EventText:           "text",
	EventAccepted:       "accepted",
	EventRejected:       "rejected",
}

func (e Event) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "event(?)"
}

// Transition returns the stage that follows stage on ev. It has no side effects.
func Transition(stage session.Stage, ev Event) session.Stage {
	switch ev {
	case EventReset:
		return session.Idle
	case EventDelete:
		return session.AwaitingDeleteTarget
	case EventConnect:
		return session.AwaitingChatID
	case EventStart, EventList, EventUnknownCommand, EventText, EventRejected:
		return stage
	case EventAccepted:
		switch stage {
		case session.AwaitingChatID:
			return session.AwaitingFormID
		case session.AwaitingFormID, session.AwaitingDeleteTarget:
			return session.Idle
		}
	}
	return stage
}

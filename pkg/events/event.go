package events

import "time"

// Event is what travels over the workbook event bus. EventType doubles as the
// subject suffix, so "workbook.data_saved" is published on
// "events.workbook.data_saved".
type Event interface {
	EventType() string

	// Payload must survive a JSON hop; numbers come back as float64.
	Payload() map[string]interface{}

	Timestamp() time.Time
}

// Received is an event rebuilt by a subscriber from the wire. Handlers decode
// Data into the concrete type they expect, e.g. DecodeWorkbookDataSaved.
type Received struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e Received) EventType() string {
	return e.Type
}

func (e Received) Payload() map[string]interface{} {
	return e.Data
}

func (e Received) Timestamp() time.Time {
	return e.OccurredAt
}

package txengine

// EventType discriminates store events.
type EventType string

const (
	EventAdded         EventType = "added"
	EventStatusChanged EventType = "statusChanged"
	EventUpdated       EventType = "updated"
	EventRemoved       EventType = "removed"
)

// StoreEvent is the typed payload delivered to store subscribers. Record is
// a snapshot; mutating it has no effect on the store.
type StoreEvent struct {
	Type   EventType
	Record *TransactionRecord

	// PreviousStatus is set on EventStatusChanged.
	PreviousStatus Status
}

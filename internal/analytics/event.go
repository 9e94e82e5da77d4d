package analytics

// EventNameFilterTag is the only event name the collector understands.
const EventNameFilterTag = "filter-tag"

// Event is the payload delivered to the analytics collector.
type Event struct {
	UTMCDN    string    `json:"utm_cdn"`
	EventName string    `json:"event_name"`
	EventArgs EventArgs `json:"event_args"`
}

// EventArgs carries the tracked id and what happened to it.
type EventArgs struct {
	ID                string `json:"id"`
	OtherInfo         string `json:"other_info"`
	PersistenceMethod string `json:"persistence_method"`
}

// NewFilterTag builds a filter-tag event for the given campaign id.
func NewFilterTag(utmCDN, id, otherInfo, persistenceMethod string) Event {
	return Event{
		UTMCDN:    utmCDN,
		EventName: EventNameFilterTag,
		EventArgs: EventArgs{
			ID:                id,
			OtherInfo:         otherInfo,
			PersistenceMethod: persistenceMethod,
		},
	}
}

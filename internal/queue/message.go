package queue

import (
	"fmt"
	"strings"

	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/trigger"
)

// WriteEventMessage is the broker payload for one document write
// delivery. The broker may deliver the same EventID more than once.
type WriteEventMessage struct {
	EventID    string         `json:"eventId"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
}

func (m WriteEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(m.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	if strings.TrimSpace(m.DocumentID) == "" {
		return fmt.Errorf("documentId is required")
	}
	if m.Before == nil && m.After == nil {
		return fmt.Errorf("message carries no document snapshots")
	}
	return nil
}

// Event converts the broker payload into a dispatchable trigger event.
func (m WriteEventMessage) Event() trigger.Event {
	return trigger.Event{
		EventID: m.EventID,
		Ref:     docstore.Ref{Collection: m.Collection, ID: m.DocumentID},
		Before:  m.Before,
		After:   m.After,
	}
}

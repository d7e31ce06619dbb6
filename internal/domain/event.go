package domain

import (
	"encoding/json"
	"slices"
)

// Event names published to webhook subscribers.
const (
	EventProjectCreated       = "project.created"
	EventProjectUpdated       = "project.updated"
	EventProjectStatusChanged = "project.status_changed"
	EventTaskCreated          = "task.created"
	EventTaskUpdated          = "task.updated"
	EventTaskCompleted        = "task.completed"
	EventTaskDeleted          = "task.deleted"
	EventInvoiceCreated       = "invoice.created"
	EventInvoiceSent          = "invoice.sent"
	EventInvoicePaid          = "invoice.paid"
	EventContractSent         = "contract.sent"
	EventContractSigned       = "contract.signed"
	EventFileUploaded         = "file.uploaded"
	EventMessageSent          = "message.sent"
)

var knownEvents = []string{
	EventProjectCreated,
	EventProjectUpdated,
	EventProjectStatusChanged,
	EventTaskCreated,
	EventTaskUpdated,
	EventTaskCompleted,
	EventTaskDeleted,
	EventInvoiceCreated,
	EventInvoiceSent,
	EventInvoicePaid,
	EventContractSent,
	EventContractSigned,
	EventFileUploaded,
	EventMessageSent,
}

// KnownEvents returns the recognised event names in catalogue order.
func KnownEvents() []string {
	return slices.Clone(knownEvents)
}

func IsKnownEvent(name string) bool {
	return slices.Contains(knownEvents, name)
}

// Envelope is the JSON body every subscriber receives.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type TriggerEventRequest struct {
	Event string          `json:"event" validate:"required,webhook_event"`
	Data  json.RawMessage `json:"data"`
}

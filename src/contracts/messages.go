// Package contracts defines the data model shared by the gateway, the publish
// adapter and the deferred worker, together with the wire message published to
// the broker.
package contracts

import (
	"encoding/json"
	"time"

	"invoice-ingest/src/batchid"
)

// Invoice is a single invoice record holding the JSON object exactly as the
// caller submitted it. The core validates a parsed copy and carries these bytes
// through staging and publish unchanged.
type Invoice = json.RawMessage

// BatchPayload is the validated request body carried through staging and publish.
type BatchPayload struct {
	// Origin format declared by the caller ("json" or "csv"). Optional.
	Source   string    `json:"source,omitempty"`
	Invoices []Invoice `json:"invoices"`
}

// InvoiceBatch is created once at acceptance time and never mutated.
type InvoiceBatch struct {
	BatchID    batchid.ID
	Payload    BatchPayload
	AcceptedAt time.Time
}

// NewInvoiceBatch accepts payload under id, stamping the acceptance time in UTC.
func NewInvoiceBatch(id batchid.ID, payload BatchPayload, now time.Time) InvoiceBatch {
	return InvoiceBatch{
		BatchID:    id,
		Payload:    payload,
		AcceptedAt: now.UTC(),
	}
}

// PublishMessage is the JSON document published to the ingest topic.
// Published to: invoice.ingest.v1
// Key: {batch_id}
type PublishMessage struct {
	BatchID    string       `json:"batch_id"`
	ReceivedAt string       `json:"received_at"`
	Payload    BatchPayload `json:"payload"`
}

// StatusAccepted is the only status the ingestion endpoint reports.
const StatusAccepted = "accepted"

// Topic names used when the configuration does not override them.
const (
	// TopicInvoiceIngest receives accepted invoice batches.
	TopicInvoiceIngest = "invoice.ingest.v1"

	// TopicIngestJobs carries work items for the deferred publish worker.
	TopicIngestJobs = "invoice.ingest.jobs"

	// TopicDeadLetter receives work items the deferred worker gave up on.
	TopicDeadLetter = "invoice.ingest.v1.dlq"
)

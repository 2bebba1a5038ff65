// Package serializer encodes accepted invoice batches into the JSON message
// published to the ingest topic.
package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoice-ingest/src/batchid"
	"invoice-ingest/src/contracts"
)

// TimeLayout is the layout of received_at: RFC 3339 in UTC with the
// fractional seconds the clock provides.
const TimeLayout = time.RFC3339Nano

// Serialize encodes batch as {batch_id, received_at, payload}.
// Invoices are embedded as submitted. One that is not valid JSON fails with an
// error wrapping contracts.ErrSerialization.
func Serialize(batch contracts.InvoiceBatch) ([]byte, error) {
	if batch.BatchID.IsZero() {
		return nil, errors.Join(contracts.ErrSerialization, errors.New("batch has no id"))
	}

	data, err := json.Marshal(contracts.PublishMessage{
		BatchID:    batch.BatchID.String(),
		ReceivedAt: batch.AcceptedAt.UTC().Format(TimeLayout),
		Payload:    batch.Payload,
	})
	if err != nil {
		return nil, errors.Join(contracts.ErrSerialization, fmt.Errorf("failed to encode batch %s: %w", batch.BatchID, err))
	}
	return data, nil
}

// Deserialize decodes a published message and checks its batch id and timestamp.
func Deserialize(data []byte) (contracts.PublishMessage, error) {
	var msg contracts.PublishMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return contracts.PublishMessage{}, errors.Join(contracts.ErrSerialization, fmt.Errorf("failed to decode message: %w", err))
	}

	if _, err := batchid.Parse(msg.BatchID); err != nil {
		return contracts.PublishMessage{}, errors.Join(contracts.ErrSerialization, err)
	}
	if _, err := time.Parse(TimeLayout, msg.ReceivedAt); err != nil {
		return contracts.PublishMessage{}, errors.Join(contracts.ErrSerialization, fmt.Errorf("bad received_at: %w", err))
	}
	return msg, nil
}

// ReceivedAt parses the received_at field of msg.
func ReceivedAt(msg contracts.PublishMessage) (time.Time, error) {
	return time.Parse(TimeLayout, msg.ReceivedAt)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoice-ingest/src/batchid"
	"invoice-ingest/src/contracts"
)

// KeyPrefix namespaces staged batches inside a shared store.
const KeyPrefix = "invoice-batch:"

// DefaultTTL is used when a repository is built with a non-positive TTL.
const DefaultTTL = 10 * time.Minute

// Key derives the staging key of a batch.
func Key(id batchid.ID) string {
	return KeyPrefix + id.String()
}

// StagedPayload is the document written for each staged batch.
type StagedPayload struct {
	BatchID    string                 `json:"batch_id"`
	Status     string                 `json:"status"`
	AcceptedAt string                 `json:"accepted_at"`
	Payload    contracts.BatchPayload `json:"payload"`
}

// PayloadRepository stages whole invoice batches on top of a Store.
type PayloadRepository struct {
	store Store
	ttl   time.Duration
}

// NewPayloadRepository stages entries in st for ttl.
func NewPayloadRepository(st Store, ttl time.Duration) *PayloadRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PayloadRepository{store: st, ttl: ttl}
}

// TTL returns the expiry applied to staged entries.
func (r *PayloadRepository) TTL() time.Duration {
	return r.ttl
}

// Stage writes batch under its derived key and returns the key.
func (r *PayloadRepository) Stage(ctx context.Context, batch contracts.InvoiceBatch) (string, error) {
	key := Key(batch.BatchID)

	data, err := json.Marshal(StagedPayload{
		BatchID:    batch.BatchID.String(),
		Status:     contracts.StatusAccepted,
		AcceptedAt: batch.AcceptedAt.UTC().Format(time.RFC3339Nano),
		Payload:    batch.Payload,
	})
	if err != nil {
		return "", errors.Join(contracts.ErrSerialization, fmt.Errorf("failed to encode staged payload: %w", err))
	}

	if err := r.store.Put(ctx, key, data, r.ttl); err != nil {
		return "", errors.Join(contracts.ErrStaging, err)
	}
	return key, nil
}

// Load reads the batch under key without removing it.
// A missing or expired entry yields contracts.ErrPayloadMissing.
func (r *PayloadRepository) Load(ctx context.Context, key string) (contracts.InvoiceBatch, error) {
	data, err := r.store.Get(ctx, key)
	if IsNotFound(err) {
		return contracts.InvoiceBatch{}, errors.Join(contracts.ErrPayloadMissing, err)
	}
	if err != nil {
		return contracts.InvoiceBatch{}, errors.Join(contracts.ErrStaging, err)
	}

	var staged StagedPayload
	if err := json.Unmarshal(data, &staged); err != nil {
		return contracts.InvoiceBatch{}, errors.Join(contracts.ErrPayloadMissing, fmt.Errorf("staged payload %s is corrupt: %w", key, err))
	}

	id, err := batchid.Parse(staged.BatchID)
	if err != nil {
		return contracts.InvoiceBatch{}, errors.Join(contracts.ErrPayloadMissing, err)
	}
	acceptedAt, err := time.Parse(time.RFC3339Nano, staged.AcceptedAt)
	if err != nil {
		return contracts.InvoiceBatch{}, errors.Join(contracts.ErrPayloadMissing, fmt.Errorf("staged payload %s has bad accepted_at: %w", key, err))
	}

	return contracts.InvoiceBatch{
		BatchID:    id,
		Payload:    staged.Payload,
		AcceptedAt: acceptedAt.UTC(),
	}, nil
}

// Forget evicts key.
func (r *PayloadRepository) Forget(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return errors.Join(contracts.ErrStaging, err)
	}
	return nil
}

// Exists reports whether an unexpired entry is staged under key.
func (r *PayloadRepository) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.store.Get(ctx, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Join(contracts.ErrStaging, err)
	}
	return true, nil
}

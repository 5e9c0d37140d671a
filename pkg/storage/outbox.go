package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
)

// Outbox journals intents for an external signer. Submit is durable once
// it returns; the signer lists Pending and calls Ack after execution.
type Outbox struct {
	store *PebbleStore
	mu    sync.Mutex
	seq   uint64
}

func NewOutbox(store *PebbleStore) (*Outbox, error) {
	seq, err := store.lastSeq(prefixOutbox)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox: %w", err)
	}
	return &Outbox{store: store, seq: seq}, nil
}

// Submit appends in to the outbox. An intent with the same idempotency
// key as an earlier one is dropped.
func (o *Outbox) Submit(ctx context.Context, in intent.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	db := o.store.db
	idem := idemKey(in.IdempotencyKey())
	_, closer, err := db.Get(idem)
	if err == nil {
		closer.Close()
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("failed to check intent %s: %w", in.ID, err)
	}

	val, err := encodeJSON("intent", in)
	if err != nil {
		return err
	}
	key := outboxKey(o.seq + 1)
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val, nil); err != nil {
		return err
	}
	if err := b.Set(outIDKey(in.ID), key, nil); err != nil {
		return err
	}
	if err := b.Set(idem, []byte(in.ID.String()), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to journal intent %s: %w", in.ID, err)
	}
	o.seq++
	return nil
}

// Pending lists journaled intents not yet acknowledged, oldest first
func (o *Outbox) Pending(limit int) ([]intent.Intent, error) {
	prefix := []byte(prefixOutbox)
	iter, err := o.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []intent.Intent
	for iter.First(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Next() {
		var in intent.Intent
		if err := decodeJSON("intent", iter.Value(), &in); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, iter.Error()
}

// Ack removes an executed intent. Its idempotency key stays, so the same
// intent is not journaled again.
func (o *Outbox) Ack(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	db := o.store.db
	key, closer, err := db.Get(outIDKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("intent %s not pending", id)
	}
	if err != nil {
		return err
	}
	outKey := append([]byte(nil), key...)
	closer.Close()

	b := db.NewBatch()
	defer b.Close()
	if err := b.Delete(outKey, nil); err != nil {
		return err
	}
	if err := b.Delete(outIDKey(id), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

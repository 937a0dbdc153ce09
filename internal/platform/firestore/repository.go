package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Snapshot is a decoded document together with its server metadata.
type Snapshot[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection is typed access to a single top-level collection. Documents are decoded with
// DataTo, so T carries the `firestore` struct tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a collection name to the shared provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the document reference for id, for use inside transactions.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, NotFound(c.name+".ref", errors.New("document id is required"))
	}
	col, err := c.provider.Collection(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return col.Doc(id), nil
}

// Get reads and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Snapshot[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Snapshot[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Snapshot[T]{}, WrapError(c.name+".get", err)
	}
	return c.Decode(snap)
}

// Find runs the query produced by build, which receives the bare collection query.
func (c *Collection[T]) Find(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Snapshot[T], error) {
	col, err := c.provider.Collection(ctx, c.name)
	if err != nil {
		return nil, err
	}
	query := col.Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []Snapshot[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.name+".find", err)
		}
		decoded, err := c.Decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
}

// Decode converts a snapshot read elsewhere, e.g. with tx.Get.
func (c *Collection[T]) Decode(snap *firestore.DocumentSnapshot) (Snapshot[T], error) {
	if snap == nil || !snap.Exists() {
		return Snapshot[T]{}, NotFound(c.name+".decode", errors.New("document does not exist"))
	}
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Snapshot[T]{}, fmt.Errorf("%s decode %s: %w", c.name, snap.Ref.ID, err)
	}
	return Snapshot[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}

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

// Document is a decoded snapshot. Missing documents fetched through GetAll have Exists false.
type Document[T any] struct {
	ID         string
	Data       T
	Exists     bool
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection is a typed view over a Firestore collection. Every method joins the transaction bound to
// ctx when one is present.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Op formats an operation name used in wrapped errors.
func (c *Collection[T]) Op(action string) string {
	return fmt.Sprintf("%s.%s", c.name, action)
}

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.Op("ref"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Query returns the base query for the collection.
func (c *Collection[T]) Query(ctx context.Context) (firestore.Query, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	return coll.Query, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if c.name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.Op("client"), err)
	}
	return client.Collection(c.name), nil
}

// Get fetches and decodes a single document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx, ok := TransactionFrom(ctx); ok {
		snap, err = tx.Get(doc)
	} else {
		snap, err = doc.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.Op("get"), err)
	}
	return decode[T](snap)
}

// GetAll fetches several documents in one round trip, preserving order. Missing documents are
// returned with Exists false.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) ([]Document[T], error) {
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref, err := c.Ref(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	var (
		snaps []*firestore.DocumentSnapshot
		err   error
	)
	if tx, ok := TransactionFrom(ctx); ok {
		snaps, err = tx.GetAll(refs)
	} else {
		client, cerr := c.provider.Client(ctx)
		if cerr != nil {
			return nil, WrapError(c.Op("client"), cerr)
		}
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, WrapError(c.Op("getAll"), err)
	}

	docs := make([]Document[T], 0, len(snaps))
	for i, snap := range snaps {
		if snap == nil || !snap.Exists() {
			docs = append(docs, Document[T]{ID: ids[i]})
			continue
		}
		decoded, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// Set overwrites the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFrom(ctx); ok {
		return WrapError(c.Op("set"), tx.Set(doc, value))
	}
	_, err = doc.Set(ctx, value)
	return WrapError(c.Op("set"), err)
}

// Create writes the document and fails with a conflict when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	doc, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFrom(ctx); ok {
		return WrapError(c.Op("create"), tx.Create(doc, value))
	}
	_, err = doc.Create(ctx, value)
	return WrapError(c.Op("create"), err)
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	doc, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFrom(ctx); ok {
		return WrapError(c.Op("delete"), tx.Delete(doc))
	}
	_, err = doc.Delete(ctx)
	if IsNotFound(err) {
		return nil
	}
	return WrapError(c.Op("delete"), err)
}

// Mutate reads the document, applies fn and writes the result atomically. Inside an existing
// transaction the read and write join it; otherwise a dedicated transaction is started.
func (c *Collection[T]) Mutate(ctx context.Context, id string, fn func(current Document[T]) (T, error)) (T, error) {
	var result T
	run := func(ctx context.Context) error {
		current, err := c.Get(ctx, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := c.Set(ctx, id, next); err != nil {
			return err
		}
		result = next
		return nil
	}
	if err := c.provider.RunInTx(ctx, run); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Find runs a query built from the collection and decodes every result.
func (c *Collection[T]) Find(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	query, err := c.Query(ctx)
	if err != nil {
		return nil, err
	}
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TransactionFrom(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.Op("query"), err)
		}
		decoded, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		Exists:     true,
		UpdateTime: snap.UpdateTime,
	}, nil
}

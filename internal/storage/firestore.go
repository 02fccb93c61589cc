package storage

import (
	"context"
	"errors"
	"fmt"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore reads and administers users/{uid}/{collection} in Cloud Firestore.
type FirestoreStore struct {
	Client *firestore.Client
}

// NewFirestoreStore wraps an existing client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{Client: client}
}

func (f *FirestoreStore) collection(userID, collection string) *firestore.CollectionRef {
	return f.Client.Collection("users").Doc(userID).Collection(collection)
}

func (f *FirestoreStore) windowQuery(q Query) firestore.Query {
	return f.collection(q.UserID, q.Collection).
		OrderBy("timestamp", firestore.Desc).
		Limit(q.Limit)
}

func decodeDocs(docs []*firestore.DocumentSnapshot) ([]models.StoredMessage, error) {
	out := make([]models.StoredMessage, 0, len(docs))
	for _, doc := range docs {
		var m models.StoredMessage
		if err := doc.DataTo(&m); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", doc.Ref.ID, err)
		}
		m.ID = doc.Ref.ID
		out = append(out, m)
	}
	return out, nil
}

// Watch implements Watcher with a Firestore snapshot listener.
func (f *FirestoreStore) Watch(ctx context.Context, q Query, fn func(Snapshot)) (*Subscription, error) {
	return NewSubscription(ctx, func(ctx context.Context) {
		it := f.windowQuery(q).Snapshots(ctx)
		// Stop must not run concurrently with Next; cancelling ctx is what unblocks Next.
		defer it.Stop()

		for {
			snap, err := it.Next()
			if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
				return
			}
			if err != nil {
				logging.Error("firestore listener failed", err)
				fn(Snapshot{Err: err})
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				fn(Snapshot{Err: err})
				continue
			}
			msgs, err := decodeDocs(docs)
			fn(Snapshot{Messages: msgs, Err: err})
		}
	}), nil
}

// RecentMessages reads the window once.
func (f *FirestoreStore) RecentMessages(ctx context.Context, q Query) ([]models.StoredMessage, error) {
	docs, err := f.windowQuery(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return decodeDocs(docs)
}

// SaveMessage adds a turn with a server-assigned timestamp.
func (f *FirestoreStore) SaveMessage(ctx context.Context, userID, collection string, msg *models.StoredMessage) error {
	data := map[string]interface{}{
		"sender":    string(msg.Sender),
		"content":   msg.Content,
		"timestamp": firestore.ServerTimestamp,
	}
	if msg.RLEpisodeID != "" {
		data["rl_episode_id"] = msg.RLEpisodeID
	}

	ref, _, err := f.collection(userID, collection).Add(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	msg.ID = ref.ID
	return nil
}

// Purge deletes every document of the collection.
func (f *FirestoreStore) Purge(ctx context.Context, userID, collection string) (int, error) {
	bw := f.Client.BulkWriter(ctx)
	iter := f.collection(userID, collection).Documents(ctx)
	defer iter.Stop()

	n := 0
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return n, fmt.Errorf("failed to list messages: %w", err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return n, fmt.Errorf("failed to delete %s: %w", doc.Ref.ID, err)
		}
		n++
	}
	bw.End()
	return n, nil
}

package runlog

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
)

const firestoreSnapshotDoc = "last-run"

// FirestoreStore keeps the snapshot as one document and every audit event as its own
// document in a sibling collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) eventsCollection() string { return s.collection + "_events" }

func (s *FirestoreStore) LoadSnapshot(ctx context.Context) (models.RunState, bool, error) {
	snap, err := s.client.Collection(s.collection).Doc(firestoreSnapshotDoc).Get(ctx)
	if snap != nil && !snap.Exists() {
		return models.RunState{}, false, nil
	}
	if err != nil {
		return models.RunState{}, false, fmt.Errorf("failed to read run snapshot: %w", err)
	}
	var state models.RunState
	if err := snap.DataTo(&state); err != nil {
		return models.RunState{}, false, fmt.Errorf("failed to decode run snapshot: %w", err)
	}
	return state, true, nil
}

func (s *FirestoreStore) SaveSnapshot(ctx context.Context, state models.RunState) error {
	_, err := s.client.Collection(s.collection).Doc(firestoreSnapshotDoc).Set(ctx, state)
	return err
}

// AppendEvent uses Create so a retried append of the same entry id cannot duplicate it.
func (s *FirestoreStore) AppendEvent(ctx context.Context, entry models.LogEntry) error {
	_, err := s.client.Collection(s.eventsCollection()).Doc(entry.ID).Create(ctx, entry)
	return err
}

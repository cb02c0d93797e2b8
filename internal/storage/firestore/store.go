package firestore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/julianstephens/guardian/internal/storage"
)

// Store keeps each user's keys under users/{user_id}/kv/{escaped key}.
type Store struct {
	projectID string

	mu     sync.RWMutex
	client *firestore.Client
}

// NewStore creates an unconnected Firestore store for projectID.
func NewStore(projectID string) *Store {
	return &Store{projectID: projectID}
}

type kvDoc struct {
	Key       string    `firestore:"key"`
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type userDoc struct {
	UserID    string    `firestore:"user_id"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) usersCol() *firestore.CollectionRef {
	return s.client.Collection("users")
}

func (s *Store) kvCol(userID string) *firestore.CollectionRef {
	return s.usersCol().Doc(userID).Collection("kv")
}

// DocID maps a key to a Firestore document id. Keys contain "/", which
// Firestore treats as a path separator.
func DocID(key string) string {
	return url.PathEscape(key)
}

func (s *Store) conn() (*firestore.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, fmt.Errorf("%w: firestore store not loaded", storage.ErrUnavailable)
	}
	return s.client, nil
}

// ─────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────

func (s *Store) Init() error {
	return s.Load()
}

func (s *Store) Load() error {
	if s.projectID == "" {
		return fmt.Errorf("projectID is required for Firestore store")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	client, err := firestore.NewClient(context.Background(), s.projectID)
	if err != nil {
		return fmt.Errorf("%w: creating firestore client: %v", storage.ErrUnavailable, err)
	}
	s.client = client
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// ─────────────────────────────────────────
// Provider implementation
// ─────────────────────────────────────────

func (s *Store) Get(ctx context.Context, userID, key string) ([]byte, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}

	snap, err := s.kvCol(userID).Doc(DocID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("firestore get %s: %w", key, err)
	}

	var doc kvDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore get %s decode: %w", key, err)
	}
	return doc.Value, nil
}

func (s *Store) Put(ctx context.Context, userID, key string, value []byte) error {
	client, err := s.conn()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(s.usersCol().Doc(userID), userDoc{UserID: userID, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.Set(s.kvCol(userID).Doc(DocID(key)), kvDoc{Key: key, Value: value, UpdatedAt: now})
	})
	if err != nil {
		return fmt.Errorf("firestore put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, key string) error {
	if _, err := s.conn(); err != nil {
		return err
	}

	if _, err := s.kvCol(userID).Doc(DocID(key)).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore delete %s: %w", key, err)
	}
	return nil
}

// Query scans [prefix, prefix+U+F8FF) on the stored key field.
func (s *Store) Query(ctx context.Context, userID, prefix string) ([]storage.Entry, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}

	q := s.kvCol(userID).OrderBy("key", firestore.Asc)
	if prefix != "" {
		q = q.Where("key", ">=", prefix).Where("key", "<", prefix+"\uf8ff")
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []storage.Entry
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore query %s: %w", prefix, err)
		}

		var doc kvDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode kvDoc: %w", err)
		}
		out = append(out, storage.Entry{Key: doc.Key, Value: doc.Value})
	}
	return out, nil
}

func (s *Store) Users(ctx context.Context) ([]string, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}

	iter := s.usersCol().OrderBy("user_id", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []string
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore users: %w", err)
		}
		out = append(out, snap.Ref.ID)
	}
	return out, nil
}

func (s *Store) GetConfigPath() string {
	return "firestore://" + s.projectID
}

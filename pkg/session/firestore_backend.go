package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/aixgo-dev/recall/pkg/memory"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFirestoreCollection = "recall_sessions"

// FirestoreConfig holds Firestore settings.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string `yaml:"project_id"`
	// CredentialsFile is a service account key; empty uses Application
	// Default Credentials.
	CredentialsFile string `yaml:"credentials_file"`
	// Collection holds one document per session (default: "recall_sessions").
	Collection string `yaml:"collection"`
}

// FirestoreBackend implements StorageBackend with one Firestore document
// per session. The memory is stored as a JSON string field so its shape
// matches the other backends exactly.
type FirestoreBackend struct {
	client  *firestore.Client
	collRef *firestore.CollectionRef
	mu      sync.RWMutex
	closed  bool
}

// NewFirestoreBackend creates a Firestore backend.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewFirestoreBackendFromClient(client, cfg.Collection), nil
}

// NewFirestoreBackendFromClient wraps an existing client, e.g. one pointed
// at the emulator.
func NewFirestoreBackendFromClient(client *firestore.Client, collection string) *FirestoreBackend {
	if collection == "" {
		collection = defaultFirestoreCollection
	}
	return &FirestoreBackend{
		client:  client,
		collRef: client.Collection(collection),
	}
}

func (f *FirestoreBackend) checkOpen() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStorageClosed
	}
	return nil
}

// SaveMemory creates or replaces the session document.
func (f *FirestoreBackend) SaveMemory(ctx context.Context, sessionID string, mem *memory.SessionMemory) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if mem == nil {
		return errors.New("memory is nil")
	}

	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	_, err = f.collRef.Doc(sessionID).Set(ctx, record{
		SessionID:  sessionID,
		SavedAt:    time.Now().UTC(),
		MemoryJSON: string(data),
	})
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// LoadMemory reads the session document.
func (f *FirestoreBackend) LoadMemory(ctx context.Context, sessionID string) (*memory.SessionMemory, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	doc, err := f.collRef.Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrMemoryNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}

	var rec record
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if rec.MemoryJSON == "" {
		return nil, ErrMemoryNotFound
	}

	var mem memory.SessionMemory
	if err := json.Unmarshal([]byte(rec.MemoryJSON), &mem); err != nil {
		return nil, fmt.Errorf("unmarshal memory: %w", err)
	}
	return &mem, nil
}

// DeleteMemory removes the session document.
func (f *FirestoreBackend) DeleteMemory(ctx context.Context, sessionID string) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	if _, err := f.collRef.Doc(sessionID).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// ListSessions returns the IDs of all session documents.
func (f *FirestoreBackend) ListSessions(ctx context.Context) ([]string, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	refs := f.collRef.DocumentRefs(ctx)
	ids := []string{}
	for {
		ref, err := refs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		ids = append(ids, ref.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping reads at most one document to confirm the collection is reachable.
func (f *FirestoreBackend) Ping(ctx context.Context) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	iter := f.collRef.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (f *FirestoreBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.client.Close()
}

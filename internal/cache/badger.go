// internal/cache/badger.go
//
// Badger-backed session cache: one JSON document per user holding the
// live game session. Entries carry an idle TTL so abandoned sessions
// expire instead of accumulating forever; every Put rewrites the entry
// and therefore refreshes the TTL.
//
// The cache offers no locking: callers (the session engine) serialize
// their own read-modify-write cycles per user.

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/geopursuit/go-server/internal/session"
)

// sessionKeyPrefix namespaces session documents inside the shared DB.
const sessionKeyPrefix = "session:"

// Badger implements session.Cache on a badger.DB.
type Badger struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (and creates if missing) a Badger database at dir. An empty
// dir opens an in-memory instance, used in tests.
func Open(dir string, ttl time.Duration) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db, ttl: ttl}, nil
}

// Close releases the underlying database.
func (b *Badger) Close() error { return b.db.Close() }

// Get returns the session document for userID, or session.ErrNoSession if
// none exists (or the entry expired).
func (b *Badger) Get(ctx context.Context, userID string) (*session.Document, error) {
	var doc session.Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return session.ErrNoSession
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Put replaces the whole document for userID and refreshes its TTL.
func (b *Badger) Put(ctx context.Context, userID string, doc *session.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(userID), data)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes the document for userID. Deleting an absent key is not
// an error.
func (b *Badger) Delete(ctx context.Context, userID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// RunGC runs Badger's value-log garbage collection until ctx is done.
func (b *Badger) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Returns ErrNoRewrite when there is nothing to collect.
			_ = b.db.RunValueLogGC(0.5)
		}
	}
}

func key(userID string) []byte {
	return []byte(sessionKeyPrefix + userID)
}

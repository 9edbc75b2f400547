package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const entriesBucketName = "entries"

// ErrEntryNotFound is returned when no entry exists for an ID
var ErrEntryNotFound = errors.New("entry not found")

// DB defines the interface for ledger operations
type DB interface {
	// SaveEntry stores an entry under its ID
	SaveEntry(entry *LedgerEntry) error

	// GetEntry retrieves an entry by ID
	GetEntry(id string) (*LedgerEntry, error)

	// ListEntries returns all entries, oldest first
	ListEntries() ([]*LedgerEntry, error)

	// DeleteEntry removes an entry
	DeleteEntry(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the ledger at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveEntry stores an entry under its ID
func (b *BoltDB) SaveEntry(entry *LedgerEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

// GetEntry retrieves an entry by ID
func (b *BoltDB) GetEntry(id string) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns all entries, oldest first
func (b *BoltDB) ListEntries() ([]*LedgerEntry, error) {
	entries := make([]*LedgerEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var entry LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry: %w", err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// DeleteEntry removes an entry
func (b *BoltDB) DeleteEntry(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

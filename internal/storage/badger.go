package storage

import (
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerArea is the durable store area backed by an embedded badger database.
// It holds persistent session fields and global settings.
type BadgerArea struct {
	db       *badger.DB
	notifier *notifier
}

// OpenBadger opens (or creates) the durable area at dir
func OpenBadger(dir string, logger *slog.Logger) (*BadgerArea, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is noisy; engine logging covers it
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store at %s: %w", dir, err)
	}
	logger.Debug("Durable store opened", "dir", dir)
	return &BadgerArea{db: db, notifier: newNotifier()}, nil
}

// Get returns the values for the requested keys
func (b *BadgerArea) Get(keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("durable get failed: %w", err)
	}
	return out, nil
}

// Set writes all entries in one transaction
func (b *BadgerArea) Set(values map[string][]byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for key, val := range values {
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("durable set failed: %w", err)
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	b.notifier.notify(keys...)
	return nil
}

// Delete removes the given keys
func (b *BadgerArea) Delete(keys ...string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("durable delete failed: %w", err)
	}
	b.notifier.notify(keys...)
	return nil
}

// Keys returns all keys with the given prefix, in badger iteration order
func (b *BadgerArea) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("durable key scan failed: %w", err)
	}
	return keys, nil
}

// OnChange registers a change callback
func (b *BadgerArea) OnChange(fn func(key string)) func() {
	return b.notifier.register(fn)
}

// Close closes the database
func (b *BadgerArea) Close() error {
	return b.db.Close()
}

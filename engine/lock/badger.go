package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerLocker implements Locker on top of a badger key/value store: a
// lock is a key written with SetEntry/TTL that only one Acquire can
// place, polled until free or ctx is done. It gives single-host
// mutual exclusion; true cluster-wide locking needs a networked
// backend the corpus does not provide (see DESIGN.md).
type BadgerLocker struct {
	db       *badger.DB
	pollEvery time.Duration
}

// OpenBadgerLocker opens (or creates) a badger store at dir. Pass ""
// for an in-memory store, suitable for tests and single-process runs.
func OpenBadgerLocker(dir string) (*BadgerLocker, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("lock: open badger: %w", err)
	}
	return &BadgerLocker{db: db, pollEvery: 50 * time.Millisecond}, nil
}

func (l *BadgerLocker) Close() error { return l.db.Close() }

func (l *BadgerLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTimeout
	}
	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()

	for {
		acquired, err := l.tryAcquire(key, ttl)
		if err != nil {
			return nil, err
		}
		if acquired {
			return &badgerLock{db: l.db, key: key}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *BadgerLocker) tryAcquire(key string, ttl time.Duration) (bool, error) {
	acquired := false
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil // already held
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		entry := badger.NewEntry([]byte(key), []byte{1}).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

type badgerLock struct {
	db   *badger.DB
	key  string
	once sync.Once
}

func (b *badgerLock) Release(_ context.Context) error {
	var err error
	b.once.Do(func() {
		err = b.db.Update(func(txn *badger.Txn) error {
			err := txn.Delete([]byte(b.key))
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		})
	})
	return err
}

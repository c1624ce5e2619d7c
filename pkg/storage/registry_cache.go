package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/log"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

const registryKeyPrefix = "registry:"

type cachedRecord struct {
	Record   models.RegistryRecord `json:"record"`
	CachedAt time.Time             `json:"cached_at"`
}

// RegistryCache stores registry lookups in BadgerDB, including misses, keyed by
// canonical ingredient name. Entries expire after ttl.
type RegistryCache struct {
	db   *badger.DB
	ttl  time.Duration
	log  *logrus.Entry
	hits atomic.Int64
}

// OpenRegistryCache opens the cache in dir. An empty dir keeps it in memory.
func OpenRegistryCache(dir string, ttl time.Duration, logger *logrus.Entry) (*RegistryCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create cache directory %s: %w", utils.ErrFilesystem, dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open registry cache at %q: %w", utils.ErrDatabase, dir, err)
	}
	logger.Infof("Registry cache ready (dir=%q, ttl=%v)", dir, ttl)
	return &RegistryCache{db: db, ttl: ttl, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
func (c *RegistryCache) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		c.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Get returns the cached record for key and whether it was present.
func (c *RegistryCache) Get(key string) (models.RegistryRecord, bool, error) {
	var entry cachedRecord
	found := false
	k := []byte(registryKeyPrefix + key)

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, &entry); errJSON != nil {
				c.log.Warnf("Discarding unreadable registry cache entry %q: %v", key, errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return models.RegistryRecord{}, false, fmt.Errorf("%w: registry cache get %q: %w", utils.ErrDatabase, key, err)
	}
	if found {
		c.hits.Add(1)
	}
	return entry.Record, found, nil
}

// Put stores rec under key.
func (c *RegistryCache) Put(key string, rec models.RegistryRecord) error {
	val, err := json.Marshal(cachedRecord{Record: rec, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: marshal registry record %q: %w", utils.ErrParsing, key, err)
	}
	err = c.dbUpdate(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(registryKeyPrefix+key), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("%w: registry cache put %q: %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// Hits returns the number of successful lookups since open.
func (c *RegistryCache) Hits() int64 {
	return c.hits.Load()
}

// RunGC runs BadgerDB's value log garbage collection until ctx is cancelled.
func (c *RegistryCache) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				err = c.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				c.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			c.log.Debugf("Stopping registry cache GC: %v", ctx.Err())
			return
		}
	}
}

// Close closes the cache.
func (c *RegistryCache) Close() error {
	if c.db == nil || c.db.IsClosed() {
		return nil
	}
	c.log.Info("Closing registry cache...")
	return c.db.Close()
}

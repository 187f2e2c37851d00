// Package claims implements the controller's claim table: key -> (worker,
// in-flight since), so that a second request for a key already being built
// waits for the first to land in the shared cache instead of re-running it
// (spec.md 4.7 "Claim table").
//
// The in-memory, mutex-guarded map is the hot path every scheduling decision
// actually reads and writes; bbolt is a write-behind durability layer so a
// controller restart can recover in-flight claims instead of silently
// forgetting them and double-dispatching work a worker is already doing.
package claims

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("claims")

// Claim records who is building a key and since when.
type Claim struct {
	Key       string    `json:"key"`
	WorkerID  string    `json:"worker_id"`
	RequestID string    `json:"request_id"`
	Since     time.Time `json:"since"`
}

// Table is the controller's in-flight claim index, durable across restarts.
type Table struct {
	mu     sync.Mutex
	claims map[string]*Claim
	db     *bbolt.DB
}

// Open opens (creating if absent) the bbolt-backed claim table at path and
// loads its contents into the in-memory index.
func Open(path string) (*Table, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open claim table: %w", err)
	}

	t := &Table{claims: make(map[string]*Claim), db: db}
	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			var c Claim
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode claim %q: %w", k, err)
			}
			t.claims[string(k)] = &c
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Close closes the underlying bbolt database.
func (t *Table) Close() error { return t.db.Close() }

// TryClaim atomically claims key for workerID/requestID if unclaimed.
// Returns the existing claim and ok=false if key is already claimed.
func (t *Table) TryClaim(key, workerID, requestID string) (claim *Claim, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, found := t.claims[key]; found {
		return existing, false
	}

	c := &Claim{Key: key, WorkerID: workerID, RequestID: requestID, Since: time.Now()}
	t.claims[key] = c
	t.persist(c)
	return c, true
}

// Release removes key's claim, e.g. once the artifact lands in the shared
// cache or the claiming worker disconnects.
func (t *Table) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.claims, key)
	t.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// ReleaseWorker releases every claim held by workerID, used when a worker
// disconnects (spec.md 4.7 "Worker disconnect during Running").
func (t *Table) ReleaseWorker(workerID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for key, c := range t.claims {
		if c.WorkerID == workerID {
			released = append(released, key)
			delete(t.claims, key)
		}
	}
	t.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, key := range released {
			bucket.Delete([]byte(key))
		}
		return nil
	})
	return released
}

// Lookup returns key's claim, if any.
func (t *Table) Lookup(key string) (*Claim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.claims[key]
	return c, ok
}

func (t *Table) persist(c *Claim) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	t.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(c.Key), data)
	})
}

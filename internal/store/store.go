// Package store is the Issuer's bbolt-backed persistence layer: customers,
// machines, and activation-count lookups. Uses a bucket-per-entity design
// with JSON-marshaled records and cursor-based secondary indices,
// generalized from container-update history to customer/machine/
// certificate records.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCustomers          = []byte("customers")           // customer_id -> json Customer
	bucketCustomersByKey     = []byte("customers_by_key")     // product_key -> customer_id
	bucketMachines           = []byte("machines")             // machine_id -> json Machine
	bucketMachinesByFP       = []byte("machines_by_fp")       // fingerprint -> machine_id
	bucketMachinesByCustomer = []byte("machines_by_customer") // "customer_id::machine_id" -> machine_id
)

// Store wraps a bbolt database handle.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCustomers, bucketCustomersByKey, bucketMachines, bucketMachinesByFP, bucketMachinesByCustomer} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

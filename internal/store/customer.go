package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nainovate/license-authority/internal/tiers"
)

// ErrNotFound is returned by lookups with no matching record.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an insert would violate a uniqueness
// invariant (a duplicate product key).
var ErrConflict = errors.New("store: conflict")

// Customer is the persisted customer record.
type Customer struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"display_name"`
	ProductKey      string     `json:"product_key"`
	Tier            tiers.Name `json:"tier"`
	MachineQuota    int        `json:"machine_quota"`
	ValidDays       int        `json:"valid_days"`
	AllowedServices []string   `json:"allowed_services"`
	Revoked         bool       `json:"revoked"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CreateCustomer persists a new customer. Fails with ErrConflict if the
// product key is already taken (product key maps to at most one customer,
// invariant).
func (s *Store) CreateCustomer(c Customer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		keyBucket := tx.Bucket(bucketCustomersByKey)
		if keyBucket.Get([]byte(c.ProductKey)) != nil {
			return fmt.Errorf("product key %q: %w", c.ProductKey, ErrConflict)
		}

		data, err := marshalJSON(c)
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketCustomers).Put([]byte(c.ID), data); err != nil {
			return err
		}
		return keyBucket.Put([]byte(c.ProductKey), []byte(c.ID))
	})
}

// GetCustomer looks up a customer by id.
func (s *Store) GetCustomer(id string) (*Customer, error) {
	var c Customer
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCustomers).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomerByProductKey resolves a customer via the product-key index.
func (s *Store) GetCustomerByProductKey(productKey string) (*Customer, error) {
	var c Customer
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCustomersByKey).Get([]byte(productKey))
		if id == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketCustomers).Get(id)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCustomer overwrites the stored record for c.ID. Used by upgrade's
// tier and machine-quota change; revocation goes through RevokeCustomer.
func (s *Store) UpdateCustomer(c Customer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalJSON(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCustomers).Put([]byte(c.ID), data)
	})
}

// ListCustomers returns every customer record, for admin tooling (licensectl
// list) and the periodic gauge sweep in cmd/issuerd.
func (s *Store) ListCustomers() ([]Customer, error) {
	var out []Customer
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustomers).ForEach(func(_, v []byte) error {
			var c Customer
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

// CountActiveCustomers counts non-revoked customers.
func (s *Store) CountActiveCustomers() (int, error) {
	customers, err := s.ListCustomers()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range customers {
		if !c.Revoked {
			count++
		}
	}
	return count, nil
}

// RevokeCustomer marks a customer revoked. Irreversible through this API —
// there is no un-revoke operation.
func (s *Store) RevokeCustomer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var c Customer
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		c.Revoked = true
		out, err := marshalJSON(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

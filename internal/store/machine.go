package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// MachineStatus is the lifecycle state of a bound machine.
type MachineStatus string

const (
	MachineActive  MachineStatus = "active"
	MachineRevoked MachineStatus = "revoked"
	MachineExpired MachineStatus = "expired"
)

// Machine is the persisted machine record. CertificateBlob holds the full
// signed certificate document as raw JSON, exactly as issued — the store
// never re-derives or mutates it.
type Machine struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Fingerprint     string          `json:"fingerprint"`
	Hostname        string          `json:"hostname"`
	OSInfo          string          `json:"os_info"`
	AgentVersion    string          `json:"agent_version"`
	FirstSeenIP     string          `json:"first_seen_ip"`
	CertificateBlob json.RawMessage `json:"certificate_blob"`
	ProductKey      string          `json:"product_key"`
	Status          MachineStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	LastSeen        time.Time       `json:"last_seen"`
}

func customerIndexKey(customerID, machineID string) []byte {
	return []byte(customerID + "::" + machineID)
}

// GetMachineByFingerprint looks up a machine by its fingerprint, the unique
// cross-authority key (fingerprint is unique across all machines).
func (s *Store) GetMachineByFingerprint(fingerprint string) (*Machine, error) {
	var m Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketMachinesByFP).Get([]byte(fingerprint))
		if id == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketMachines).Get(id)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMachine looks up a machine by id.
func (s *Store) GetMachine(id string) (*Machine, error) {
	var m Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMachines).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountActiveMachines counts machines owned by customerID whose status is
// active (revoked and expired machines are not counted).
func (s *Store) CountActiveMachines(customerID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMachinesByCustomer).Cursor()
		prefix := []byte(customerID + "::")
		machines := tx.Bucket(bucketMachines)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := machines.Get(v)
			if data == nil {
				continue
			}
			var m Machine
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if m.Status == MachineActive {
				count++
			}
		}
		return nil
	})
	return count, err
}

// ListMachines returns every machine record, for admin tooling and the
// periodic expiry sweep in cmd/issuerd.
func (s *Store) ListMachines() ([]Machine, error) {
	var out []Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(_, v []byte) error {
			var m Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return nil
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// CountAllActiveMachines counts active machines across every customer. The
// periodic sweep counts from ListMachines itself and does not call this.
func (s *Store) CountAllActiveMachines() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(_, v []byte) error {
			var m Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return nil
			}
			if m.Status == MachineActive {
				count++
			}
			return nil
		})
	})
	return count, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ActivateResult is the outcome of an ActivateMachine transaction.
type ActivateResult struct {
	Existing      *Machine // non-nil if the fingerprint was already bound
	Created       *Machine // non-nil if a fresh machine row was inserted
	QuotaExceeded bool
	CurrentCount  int
}

// ActivateMachine performs the quota-check-plus-insert sequence as a
// single bbolt write transaction. bbolt serializes all writers
// process-wide, so this transaction is automatically serializable with
// respect to every other activation or revocation — the machine quota can
// never be exceeded under concurrency, without a separate
// application-level lock.
func (s *Store) ActivateMachine(candidate Machine, quota int) (*ActivateResult, error) {
	var result ActivateResult

	err := s.db.Update(func(tx *bolt.Tx) error {
		fpBucket := tx.Bucket(bucketMachinesByFP)
		machines := tx.Bucket(bucketMachines)

		if id := fpBucket.Get([]byte(candidate.Fingerprint)); id != nil {
			data := machines.Get(id)
			if data == nil {
				return fmt.Errorf("store: dangling fingerprint index for %s", candidate.Fingerprint)
			}
			var existing Machine
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			result.Existing = &existing
			return nil
		}

		count := 0
		cur := tx.Bucket(bucketMachinesByCustomer).Cursor()
		prefix := []byte(candidate.CustomerID + "::")
		for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
			data := machines.Get(v)
			if data == nil {
				continue
			}
			var m Machine
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if m.Status == MachineActive {
				count++
			}
		}

		if count >= quota {
			result.QuotaExceeded = true
			result.CurrentCount = count
			return nil
		}

		data, err := marshalJSON(candidate)
		if err != nil {
			return err
		}
		if err := machines.Put([]byte(candidate.ID), data); err != nil {
			return err
		}
		if err := fpBucket.Put([]byte(candidate.Fingerprint), []byte(candidate.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMachinesByCustomer).Put(customerIndexKey(candidate.CustomerID, candidate.ID), []byte(candidate.ID)); err != nil {
			return err
		}

		result.Created = &candidate
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateMachine overwrites the stored record for m.ID (used by the
// last_seen touches of validate, heartbeat and re-activation, upgrade's
// certificate replacement, and the expiry sweep; revocation goes through
// RevokeMachine).
func (s *Store) UpdateMachine(m Machine) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalJSON(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMachines).Put([]byte(m.ID), data)
	})
}

// RevokeMachine marks a machine revoked. Irreversible through this API.
func (s *Store) RevokeMachine(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMachines)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var m Machine
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.Status = MachineRevoked
		out, err := marshalJSON(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

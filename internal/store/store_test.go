package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nainovate/license-authority/internal/tiers"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "issuer.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateCustomer_DuplicateProductKeyConflicts(t *testing.T) {
	s := openTestStore(t)

	c := Customer{ID: "cust-1", ProductKey: "AAAA-BBBB-CCCC-DDDD", Tier: tiers.Basic, MachineQuota: 3, CreatedAt: time.Now()}
	require.NoError(t, s.CreateCustomer(c))

	dup := Customer{ID: "cust-2", ProductKey: "AAAA-BBBB-CCCC-DDDD", Tier: tiers.Pro, MachineQuota: 5, CreatedAt: time.Now()}
	err := s.CreateCustomer(dup)
	require.ErrorIs(t, err, ErrConflict)
}

func TestGetCustomerByProductKey(t *testing.T) {
	s := openTestStore(t)
	c := Customer{ID: "cust-1", ProductKey: "KEY-1", Tier: tiers.Enterprise, MachineQuota: 10, CreatedAt: time.Now()}
	require.NoError(t, s.CreateCustomer(c))

	got, err := s.GetCustomerByProductKey("KEY-1")
	require.NoError(t, err)
	require.Equal(t, "cust-1", got.ID)

	_, err = s.GetCustomerByProductKey("nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeCustomer(t *testing.T) {
	s := openTestStore(t)
	c := Customer{ID: "cust-1", ProductKey: "KEY-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateCustomer(c))

	require.NoError(t, s.RevokeCustomer("cust-1"))
	got, err := s.GetCustomer("cust-1")
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func TestActivateMachine_QuotaEnforcedUnderConcurrency(t *testing.T) {
	s := openTestStore(t)
	const quota = 3

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		i := i
		go func() {
			candidate := Machine{
				ID:          fakeID(i),
				CustomerID:  "cust-1",
				Fingerprint: fakeFingerprint(i),
				Status:      MachineActive,
				CreatedAt:   time.Now(),
			}
			_, err := s.ActivateMachine(candidate, quota)
			errs <- err
		}()
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, <-errs)
	}

	count, err := s.CountActiveMachines("cust-1")
	require.NoError(t, err)
	require.Equal(t, quota, count, "invariant: active machine count must never exceed quota even under concurrent activation")
}

func TestActivateMachine_SameFingerprintReturnsExisting(t *testing.T) {
	s := openTestStore(t)
	candidate := Machine{ID: "m1", CustomerID: "cust-1", Fingerprint: "fp-1", Status: MachineActive, CreatedAt: time.Now()}

	res1, err := s.ActivateMachine(candidate, 5)
	require.NoError(t, err)
	require.NotNil(t, res1.Created)

	res2, err := s.ActivateMachine(candidate, 5)
	require.NoError(t, err)
	require.NotNil(t, res2.Existing)
	require.Equal(t, "m1", res2.Existing.ID)
}

func TestRevokeMachine_FreesQuotaSlot(t *testing.T) {
	s := openTestStore(t)
	candidate := Machine{ID: "m1", CustomerID: "cust-1", Fingerprint: "fp-1", Status: MachineActive, CreatedAt: time.Now()}
	_, err := s.ActivateMachine(candidate, 1)
	require.NoError(t, err)

	blocked, err := s.ActivateMachine(Machine{ID: "m2", CustomerID: "cust-1", Fingerprint: "fp-2", Status: MachineActive, CreatedAt: time.Now()}, 1)
	require.NoError(t, err)
	require.True(t, blocked.QuotaExceeded)

	require.NoError(t, s.RevokeMachine("m1"))

	retry, err := s.ActivateMachine(Machine{ID: "m2", CustomerID: "cust-1", Fingerprint: "fp-2", Status: MachineActive, CreatedAt: time.Now()}, 1)
	require.NoError(t, err)
	require.NotNil(t, retry.Created)
}

func fakeID(i int) string          { return "machine-" + string(rune('a'+i)) }
func fakeFingerprint(i int) string { return "fp-" + string(rune('a'+i)) }

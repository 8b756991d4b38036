package gasbridge

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroTerms(t *testing.T) {
	_, err := New(Rate{Guest: 0, Host: 1})
	require.ErrorIs(t, err, ErrInvalidRate)
	_, err = New(Rate{Guest: 1, Host: 0})
	require.ErrorIs(t, err, ErrInvalidRate)
}

func TestAllocateReconcile(t *testing.T) {
	tests := []struct {
		rate      Rate
		host      uint64
		guest     uint64
		used      uint64
		reconcile uint64
	}{
		{DefaultRate, 21000, 21000, 21000, 21000},
		{Rate{Guest: 10, Host: 1}, 5, 50, 11, 2},
		{Rate{Guest: 1, Host: 3}, 10, 3, 3, 9},
		{Rate{Guest: 3, Host: 2}, 7, 10, 10, 7},
		{Rate{Guest: 3, Host: 2}, 1, 1, 1, 1},
	}
	for _, tt := range tests {
		b, err := New(tt.rate)
		require.NoError(t, err)
		assert.Equal(t, tt.guest, b.Allocate(tt.host), "allocate %s %d", tt.rate, tt.host)
		assert.Equal(t, tt.reconcile, b.Reconcile(tt.used), "reconcile %s %d", tt.rate, tt.used)
	}
}

func TestReconcileNeverExceedsBudget(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		rate := Rate{Guest: 1 + uint64(r.Intn(1000)), Host: 1 + uint64(r.Intn(1000))}
		b, err := New(rate)
		require.NoError(t, err)
		host := uint64(r.Int63n(1 << 40))
		guest := b.Allocate(host)
		used := uint64(0)
		if guest > 0 {
			used = uint64(r.Int63n(int64(guest))) + 1
		}
		require.LessOrEqual(t, b.Reconcile(guest), host, "rate %s host %d", rate, host)
		require.LessOrEqual(t, b.Reconcile(used), host)
	}
}

func TestSaturation(t *testing.T) {
	b, err := New(Rate{Guest: 4, Host: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), b.Allocate(math.MaxUint64))
}

func TestReserve(t *testing.T) {
	b, err := New(Rate{Guest: 1, Host: 2})
	require.NoError(t, err)
	budget := NewBudget(100)

	_, err = b.Reserve(budget, 0)
	require.ErrorIs(t, err, ErrInsufficientGas)
	_, err = b.Reserve(budget, 101)
	require.ErrorIs(t, err, ErrInsufficientGas)
	_, err = b.Reserve(budget, 1)
	require.ErrorIs(t, err, ErrInsufficientGas, "one host unit buys no guest gas")
	require.Zero(t, budget.Used())

	guest, err := b.Reserve(budget, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(50), guest)

	charge, err := b.Settle(budget, 21)
	require.NoError(t, err)
	require.Equal(t, uint64(42), charge)
	require.Equal(t, uint64(58), budget.Remaining())
}

func TestBudgetCharge(t *testing.T) {
	budget := NewBudget(10)
	require.NoError(t, budget.Charge(4))
	require.ErrorIs(t, budget.Charge(7), ErrInsufficientGas)
	require.Equal(t, uint64(4), budget.Used())
	require.NoError(t, budget.Charge(6))
	require.Zero(t, budget.Remaining())
	require.Equal(t, "10/10", budget.String())
}

// Package gasbridge converts between host VM gas units and guest VM gas.
package gasbridge

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrInsufficientGas is returned when a guest call cannot be funded from
	// the host budget. No guest code runs in that case.
	ErrInsufficientGas = errors.New("insufficient host gas for guest call")

	// ErrInvalidRate is returned for a conversion rate with a zero term.
	ErrInvalidRate = errors.New("invalid gas conversion rate")
)

// Rate is the fixed conversion between the two meters: Guest units of guest
// gas are worth Host units of host gas.
type Rate struct {
	Guest uint64
	Host  uint64
}

// DefaultRate charges one host unit per guest unit.
var DefaultRate = Rate{Guest: 1, Host: 1}

func (r Rate) String() string { return fmt.Sprintf("%d:%d", r.Guest, r.Host) }

// Validate checks both terms are non-zero.
func (r Rate) Validate() error {
	if r.Guest == 0 || r.Host == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRate, r)
	}
	return nil
}

// Bridge applies a Rate. It is stateless and safe for concurrent use.
type Bridge struct {
	rate Rate
}

// New creates a bridge for the given rate.
func New(rate Rate) (*Bridge, error) {
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{rate: rate}, nil
}

// Rate returns the conversion rate of the bridge.
func (b *Bridge) Rate() Rate { return b.rate }

// Allocate converts a host gas budget into a guest gas limit, rounding down so
// that the guest can never consume more than the host budget is worth.
func (b *Bridge) Allocate(hostGas uint64) uint64 {
	return mulDiv(hostGas, b.rate.Guest, b.rate.Host, false)
}

// Reconcile converts guest gas used back into the host charge, rounding up so
// that fractional units are never given away. For any guestUsed not above
// Allocate(h), the result is at most h.
func (b *Bridge) Reconcile(guestUsed uint64) uint64 {
	return mulDiv(guestUsed, b.rate.Host, b.rate.Guest, true)
}

// Reserve checks that hostLimit can be funded from budget and returns the
// guest gas limit for the call. Nothing is charged yet.
func (b *Bridge) Reserve(budget *Budget, hostLimit uint64) (uint64, error) {
	if hostLimit == 0 {
		return 0, fmt.Errorf("%w: zero gas limit", ErrInsufficientGas)
	}
	if remaining := budget.Remaining(); hostLimit > remaining {
		return 0, fmt.Errorf("%w: limit %d, remaining %d", ErrInsufficientGas, hostLimit, remaining)
	}
	guest := b.Allocate(hostLimit)
	if guest == 0 {
		return 0, fmt.Errorf("%w: limit %d converts to zero guest gas", ErrInsufficientGas, hostLimit)
	}
	return guest, nil
}

// Settle charges budget for guestUsed and returns the host charge.
func (b *Bridge) Settle(budget *Budget, guestUsed uint64) (uint64, error) {
	charge := b.Reconcile(guestUsed)
	if err := budget.Charge(charge); err != nil {
		return 0, err
	}
	return charge, nil
}

// mulDiv computes x*num/den with a 128-bit intermediate, saturating at the
// maximum uint64.
func mulDiv(x, num, den uint64, roundUp bool) uint64 {
	hi, lo := bits.Mul64(x, num)
	if hi >= den {
		return ^uint64(0)
	}
	q, r := bits.Div64(hi, lo, den)
	if roundUp && r != 0 {
		if q == ^uint64(0) {
			return q
		}
		q++
	}
	return q
}

// Budget is the host gas meter of one host transaction.
type Budget struct {
	limit uint64
	used  uint64
}

// NewBudget creates a meter holding limit host gas.
func NewBudget(limit uint64) *Budget {
	return &Budget{limit: limit}
}

// Limit returns the initial amount of gas.
func (b *Budget) Limit() uint64 { return b.limit }

// Used returns the gas charged so far.
func (b *Budget) Used() uint64 { return b.used }

// Remaining returns the gas still available.
func (b *Budget) Remaining() uint64 { return b.limit - b.used }

// Charge deducts amount, failing without change if not enough gas is left.
func (b *Budget) Charge(amount uint64) error {
	if amount > b.Remaining() {
		return fmt.Errorf("%w: charge %d, remaining %d", ErrInsufficientGas, amount, b.Remaining())
	}
	b.used += amount
	return nil
}

func (b *Budget) String() string {
	return fmt.Sprintf("%d/%d", b.used, b.limit)
}

// Package addrcodec maps 32-byte host account identifiers to 20-byte guest
// addresses and back.
//
// The embedding is fixed: a guest address is the low 20 bytes of the host
// identifier, and a host identifier is the guest address left-padded with 12
// zero bytes. Only host identifiers whose top 12 bytes are zero lie inside the
// embeddable range; ToGuest on anything else would alias, so account creation
// goes through Validate or a Registry first.
package addrcodec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// HostIDLength is the byte length of a host account identifier.
	HostIDLength = 32

	padLength = HostIDLength - common.AddressLength
)

// ErrInvalidAddressMapping is returned for identifiers outside the embeddable
// range, and for identifiers that would alias an already registered account.
var ErrInvalidAddressMapping = errors.New("invalid address mapping")

// HostID is a host VM account identifier.
type HostID [HostIDLength]byte

// BytesToHostID sets b to a HostID. If b is larger than 32 bytes it is
// cropped from the left.
func BytesToHostID(b []byte) HostID {
	var id HostID
	if len(b) > HostIDLength {
		b = b[len(b)-HostIDLength:]
	}
	copy(id[HostIDLength-len(b):], b)
	return id
}

// HexToHostID parses a 0x-prefixed hex identifier of at most 32 bytes.
func HexToHostID(s string) (HostID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return HostID{}, err
	}
	if len(b) > HostIDLength {
		return HostID{}, fmt.Errorf("host id too long: %d bytes", len(b))
	}
	return BytesToHostID(b), nil
}

// Bytes returns the identifier as a byte slice.
func (id HostID) Bytes() []byte { return id[:] }

// Hex returns the 0x-prefixed hex form of the identifier.
func (id HostID) Hex() string { return hexutil.Encode(id[:]) }

// String implements fmt.Stringer.
func (id HostID) String() string { return id.Hex() }

// Embeddable reports whether id lies inside the embedding range.
func (id HostID) Embeddable() bool {
	for _, b := range id[:padLength] {
		if b != 0 {
			return false
		}
	}
	return true
}

// ToGuest truncates a host identifier to its guest address.
func ToGuest(id HostID) common.Address {
	return common.BytesToAddress(id[padLength:])
}

// ToHost embeds a guest address into the host identifier space. It is the
// inverse of ToGuest on the embeddable range.
func ToHost(addr common.Address) HostID {
	var id HostID
	copy(id[padLength:], addr[:])
	return id
}

// Validate returns ErrInvalidAddressMapping if id is outside the embeddable
// range.
func Validate(id HostID) error {
	if !id.Embeddable() {
		return fmt.Errorf("%w: %s has non-zero high bytes", ErrInvalidAddressMapping, id)
	}
	return nil
}

// Convert validates id and returns its guest address.
func Convert(id HostID) (common.Address, error) {
	if err := Validate(id); err != nil {
		return common.Address{}, err
	}
	return ToGuest(id), nil
}

// Registry records the host identifiers that were made visible to the guest
// VM, and refuses a second identifier mapping onto an address already taken.
type Registry struct {
	mu  sync.RWMutex
	ids map[common.Address]HostID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[common.Address]HostID)}
}

// Register validates id and records it. Registering the same identifier twice
// is a no-op.
func (r *Registry) Register(id HostID) (common.Address, error) {
	addr, err := Convert(id)
	if err != nil {
		return common.Address{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.ids[addr]; ok && prev != id {
		return common.Address{}, fmt.Errorf("%w: %s aliases %s", ErrInvalidAddressMapping, id, prev)
	}
	r.ids[addr] = id
	return addr, nil
}

// Lookup returns the host identifier registered for addr.
func (r *Registry) Lookup(addr common.Address) (HostID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[addr]
	return id, ok
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

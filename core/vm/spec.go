package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Spec selects the guest instruction set and precompile set by fork.
type Spec uint8

const (
	SpecLondon Spec = iota
	SpecShanghai
	SpecCancun

	SpecLatest = SpecCancun
)

func (s Spec) String() string {
	switch s {
	case SpecLondon:
		return "london"
	case SpecShanghai:
		return "shanghai"
	case SpecCancun:
		return "cancun"
	}
	return "unknown"
}

// ParseSpec returns the spec with the given name.
func ParseSpec(name string) (Spec, bool) {
	for s := SpecLondon; s <= SpecLatest; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// SpecFromConfig maps the fork rules active at the given block to a Spec.
// Forks before London are not supported and map to London.
func SpecFromConfig(cfg *params.ChainConfig, num uint64, ts uint64) Spec {
	bn := new(big.Int).SetUint64(num)
	switch {
	case cfg.IsCancun(bn, ts):
		return SpecCancun
	case cfg.IsShanghai(bn, ts):
		return SpecShanghai
	default:
		return SpecLondon
	}
}

// IsShanghai reports whether PUSH0 and init code metering are active.
func (s Spec) IsShanghai() bool { return s >= SpecShanghai }

// IsCancun reports whether transient storage, MCOPY and the restricted
// SELFDESTRUCT of EIP-6780 are active.
func (s Spec) IsCancun() bool { return s >= SpecCancun }

// ChainConfig returns a chain config with every fork up to s active from
// genesis, for the given chain id.
func ChainConfig(chainID uint64, s Spec) *params.ChainConfig {
	zero := uint64(0)
	cfg := &params.ChainConfig{
		ChainID:             new(big.Int).SetUint64(chainID),
		HomesteadBlock:      big.NewInt(0),
		EIP150Block:         big.NewInt(0),
		EIP155Block:         big.NewInt(0),
		EIP158Block:         big.NewInt(0),
		ByzantiumBlock:      big.NewInt(0),
		ConstantinopleBlock: big.NewInt(0),
		PetersburgBlock:     big.NewInt(0),
		IstanbulBlock:       big.NewInt(0),
		MuirGlacierBlock:    big.NewInt(0),
		BerlinBlock:         big.NewInt(0),
		LondonBlock:         big.NewInt(0),
	}
	if s.IsShanghai() {
		cfg.ShanghaiTime = &zero
	}
	if s.IsCancun() {
		cfg.CancunTime = &zero
	}
	return cfg
}

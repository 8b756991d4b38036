// Package evmbridge lets host programs call into guest bytecode. A Bridge
// holds the process-wide configuration, a Session scopes the bridge to one
// host transaction and exposes the native operations: call, static view,
// create, deposit, call data encoding, result inspection and log emission.
//
// Guest frames nest up to vm.MaxCallDepth deep below the outermost frame of
// a host call, which has depth zero.
package evmbridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/moved-network/hostevm/core/vm"
	"github.com/moved-network/hostevm/evm_bridge/addrcodec"
	"github.com/moved-network/hostevm/evm_bridge/gasbridge"
	"github.com/moved-network/hostevm/evm_bridge/stateadapter"
)

// Config contains the bridge parameters.
type Config struct {
	// Rate converts between host and guest gas.
	Rate gasbridge.Rate
}

// DefaultConfig contains the default bridge settings.
var DefaultConfig = Config{
	Rate: gasbridge.DefaultRate,
}

// Bridge is safe for concurrent use by sessions of different blocks.
type Bridge struct {
	config    Config
	gas       *gasbridge.Bridge
	registry  *addrcodec.Registry
	executors map[vm.Spec]vm.Executor
	logger    log.Logger
}

// New creates a bridge. A nil config selects DefaultConfig.
func New(config *Config) (*Bridge, error) {
	if config == nil {
		config = &DefaultConfig
	}
	gas, err := gasbridge.New(config.Rate)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		config:    *config,
		gas:       gas,
		registry:  addrcodec.NewRegistry(),
		executors: make(map[vm.Spec]vm.Executor),
		logger:    log.New("component", "evmbridge"),
	}
	for s := vm.SpecLondon; s <= vm.SpecLatest; s++ {
		b.executors[s] = vm.NewExecutor(s)
	}
	b.logger.Debug("Bridge initialised", "maxdepth", vm.MaxCallDepth, "rate", config.Rate)
	return b, nil
}

// Config returns the bridge configuration.
func (b *Bridge) Config() Config { return b.config }

// Gas returns the gas converter.
func (b *Bridge) Gas() *gasbridge.Bridge { return b.gas }

// Registry returns the host identifiers seen by the bridge.
func (b *Bridge) Registry() *addrcodec.Registry { return b.registry }

// Env is the block environment a session executes in.
type Env struct {
	Block vm.BlockContext
	Spec  vm.Spec
}

// NewSession starts the bridge for one host transaction. The adapter must
// have the transaction's host frame open; guest frames are pushed on top of
// it. budget is the host gas meter of the transaction.
func (b *Bridge) NewSession(state *stateadapter.Adapter, budget *gasbridge.Budget, origin addrcodec.HostID, gasPrice *uint256.Int, env *Env) (*Session, error) {
	if state.Depth() == 0 {
		return nil, ErrHostFrame
	}
	exec, ok := b.executors[env.Spec]
	if !ok {
		return nil, fmt.Errorf("unsupported spec %v", env.Spec)
	}
	originAddr, err := b.registry.Register(origin)
	if err != nil {
		return nil, err
	}
	s := &Session{
		bridge:    b,
		state:     state,
		budget:    budget,
		env:       env,
		exec:      exec,
		origin:    originAddr,
		gasPrice:  gasPrice,
		hostDepth: state.Depth(),
		logger:    b.logger.New("origin", originAddr),
	}
	return s, nil
}

// Package tracing reports balance, nonce and log changes made by the bridge
// to optional observers.
package tracing

import (
	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// BalanceChangeReason is a description of the reason why a balance was
// changed. It shares its values with go-ethereum, since the guest interpreter
// reports its own changes with them.
type BalanceChangeReason = gethtracing.BalanceChangeReason

const (
	BalanceChangeUnspecified = gethtracing.BalanceChangeUnspecified
	BalanceChangeGenesis     = gethtracing.BalanceIncreaseGenesisBalance
	BalanceChangeTransfer    = gethtracing.BalanceChangeTransfer               // value carried by a guest call or creation
	BalanceChangeTouch       = gethtracing.BalanceChangeTouchAccount           // zero-value touch of a static call
	BalanceChangeGasBuy      = gethtracing.BalanceDecreaseGasBuy               // host tx gas bought upfront
	BalanceChangeGasRefund   = gethtracing.BalanceIncreaseGasReturn            // unused host tx gas returned
	BalanceChangeFee         = gethtracing.BalanceIncreaseRewardTransactionFee // fee credited to the coinbase

	BalanceChangeSelfDestruct      = gethtracing.BalanceDecreaseSelfdestruct
	BalanceChangeSelfDestructPayee = gethtracing.BalanceIncreaseSelfdestruct

	// BalanceChangeDeposit credits funds bridged in by a deposit. The value
	// lies outside the range used by go-ethereum.
	BalanceChangeDeposit BalanceChangeReason = 64
)

// NonceChangeReason is a description of the reason why a nonce was changed.
type NonceChangeReason = gethtracing.NonceChangeReason

const (
	NonceChangeUnspecified     = gethtracing.NonceChangeUnspecified
	NonceChangeGenesis         = gethtracing.NonceChangeGenesis
	NonceChangeHostTx          = gethtracing.NonceChangeEoACall         // sender of a host transaction
	NonceChangeContractCreator = gethtracing.NonceChangeContractCreator // CREATE/CREATE2 issued by a contract or a host program
	NonceChangeNewContract     = gethtracing.NonceChangeNewContract     // freshly deployed contract starts at one
)

var balanceReasonNames = map[BalanceChangeReason]string{
	BalanceChangeUnspecified:       "unspecified",
	BalanceChangeGenesis:           "genesis",
	BalanceChangeTransfer:          "transfer",
	BalanceChangeTouch:             "touch",
	BalanceChangeGasBuy:            "gas_buy",
	BalanceChangeGasRefund:         "gas_refund",
	BalanceChangeFee:               "fee",
	BalanceChangeSelfDestruct:      "selfdestruct",
	BalanceChangeSelfDestructPayee: "selfdestruct_payee",
	BalanceChangeDeposit:           "deposit",
}

var nonceReasonNames = map[NonceChangeReason]string{
	NonceChangeUnspecified:     "unspecified",
	NonceChangeGenesis:         "genesis",
	NonceChangeHostTx:          "host_tx",
	NonceChangeContractCreator: "contract_creator",
	NonceChangeNewContract:     "new_contract",
}

// BalanceReasonName returns the short name used in logs for r.
func BalanceReasonName(r BalanceChangeReason) string {
	if name, ok := balanceReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// NonceReasonName returns the short name used in logs for r.
func NonceReasonName(r NonceChangeReason) string {
	if name, ok := nonceReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

type (
	BalanceChangeHook = func(addr common.Address, prev, new *uint256.Int, reason BalanceChangeReason)
	NonceChangeHook   = func(addr common.Address, prev, new uint64, reason NonceChangeReason)
	LogHook           = func(log *types.Log)
)

// Hooks are invoked synchronously as state changes are buffered. Changes made
// inside a frame that is later discarded are reported too; observers that
// care about final state should wait for the receipt.
type Hooks struct {
	OnBalanceChange BalanceChangeHook
	OnNonceChange   NonceChangeHook
	OnLog           LogHook
}

package tracing

import (
	"testing"

	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/stretchr/testify/require"
)

func TestReasonNames(t *testing.T) {
	require.Equal(t, "transfer", BalanceReasonName(BalanceChangeTransfer))
	require.Equal(t, "fee", BalanceReasonName(BalanceChangeFee))
	require.Equal(t, "deposit", BalanceReasonName(BalanceChangeDeposit))
	require.Equal(t, "unknown", BalanceReasonName(99))
	require.Equal(t, "host_tx", NonceReasonName(NonceChangeHostTx))
	require.Equal(t, "unknown", NonceReasonName(200))
}

func TestReasonsMatchInterpreter(t *testing.T) {
	require.Equal(t, gethtracing.BalanceChangeTransfer, BalanceChangeTransfer)
	require.Equal(t, gethtracing.NonceChangeContractCreator, NonceChangeContractCreator)
	for r := range balanceReasonNames {
		if r == BalanceChangeDeposit {
			continue
		}
		require.Less(t, uint8(r), uint8(BalanceChangeDeposit), "reason %v", r)
	}
}

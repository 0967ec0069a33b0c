package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/domain"
)

const usdt = domain.Asset("USDT")

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestTransfer(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(1000)))

	require.NoError(t, l.Transfer(usdt, alice, bob, big.NewInt(400)))
	assert.Equal(t, int64(600), l.BalanceOf(usdt, alice).Int64())
	assert.Equal(t, int64(400), l.BalanceOf(usdt, bob).Int64())

	err := l.Transfer(usdt, alice, bob, big.NewInt(601))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientBalance))
	assert.Equal(t, int64(600), l.BalanceOf(usdt, alice).Int64())
}

func TestTransferZeroIsNoop(t *testing.T) {
	l := New()
	require.NoError(t, l.Transfer(usdt, alice, bob, big.NewInt(0)))
	assert.Equal(t, int64(0), l.BalanceOf(usdt, bob).Int64())
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(1000)))
	require.NoError(t, l.Approve(usdt, alice, bob, big.NewInt(300)))

	require.NoError(t, l.TransferFrom(usdt, bob, alice, carol, big.NewInt(200)))
	assert.Equal(t, int64(100), l.Allowance(usdt, alice, bob).Int64())
	assert.Equal(t, int64(200), l.BalanceOf(usdt, carol).Int64())

	err := l.TransferFrom(usdt, bob, alice, carol, big.NewInt(200))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientAllowance))
}

func TestSnapshotRevert(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(1000)))
	require.NoError(t, l.Approve(usdt, alice, bob, big.NewInt(500)))

	rev := l.Snapshot()
	require.NoError(t, l.TransferFrom(usdt, bob, alice, carol, big.NewInt(500)))
	require.NoError(t, l.Transfer(usdt, carol, bob, big.NewInt(100)))
	assert.Equal(t, int64(500), l.BalanceOf(usdt, alice).Int64())

	l.RevertTo(rev)
	assert.Equal(t, int64(1000), l.BalanceOf(usdt, alice).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(usdt, carol).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(usdt, bob).Int64())
	assert.Equal(t, int64(500), l.Allowance(usdt, alice, bob).Int64())
}

func TestRevertToStaleSnapshotIsNoop(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(10)))
	rev := l.Snapshot()
	require.NoError(t, l.Transfer(usdt, alice, bob, big.NewInt(5)))
	l.RevertTo(rev)
	l.RevertTo(rev) // second revert must not disturb restored state
	assert.Equal(t, int64(10), l.BalanceOf(usdt, alice).Int64())
}

func TestDiscardSnapshots(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(10)))
	rev := l.Snapshot()
	require.NoError(t, l.Transfer(usdt, alice, bob, big.NewInt(5)))
	l.DiscardSnapshots()
	l.RevertTo(rev) // journal is gone, nothing to unwind
	assert.Equal(t, int64(5), l.BalanceOf(usdt, alice).Int64())
}

func TestBeginScopesRollbackToOneTransition(t *testing.T) {
	l := New()

	// First transition commits a mint.
	end := l.Begin()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(100)))
	end()
	assert.Empty(t, l.journal)

	// A later transition's full rollback cannot reach the committed mint.
	end = l.Begin()
	rev := l.Snapshot()
	require.NoError(t, l.Transfer(usdt, alice, bob, big.NewInt(40)))
	l.RevertTo(rev)
	end()

	assert.Equal(t, int64(100), l.BalanceOf(usdt, alice).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(usdt, bob).Int64())
	assert.Empty(t, l.journal)
}

func TestBeginDropsJournalOnCommit(t *testing.T) {
	l := New()
	end := l.Begin()
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(10)))
	require.NoError(t, l.Transfer(usdt, alice, bob, big.NewInt(5)))
	assert.NotEmpty(t, l.journal)
	end()
	assert.Empty(t, l.journal)
	assert.Equal(t, int64(5), l.BalanceOf(usdt, bob).Int64())
}

func TestNegativeAmountRejected(t *testing.T) {
	l := New()
	require.Error(t, l.Mint(usdt, alice, big.NewInt(-1)))
	require.Error(t, l.Transfer(usdt, alice, bob, big.NewInt(-1)))
	require.Error(t, l.Approve(usdt, alice, bob, big.NewInt(-1)))
}

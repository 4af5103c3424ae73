package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/crypto"
	"github.com/alanyoungcy/geomarket/internal/domain"
)

const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAccount = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

var testContracts = Contracts{
	EnergyToken:   common.HexToAddress("0x1000000000000000000000000000000000000001"),
	EnergyTrading: common.HexToAddress("0x1000000000000000000000000000000000000002"),
	P2PAuction:    common.HexToAddress("0x1000000000000000000000000000000000000003"),
	CarbonToken:   common.HexToAddress("0x1000000000000000000000000000000000000004"),
	CarbonMarket:  common.HexToAddress("0x1000000000000000000000000000000000000005"),
}

// fakeBackend answers calls from a table keyed by 4-byte selector and
// records sent transactions.
type fakeBackend struct {
	mu       sync.Mutex
	calls    map[string][]byte
	estimate error
	status   uint64
	logs     []*types.Log
	pending  int
	sent     []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: map[string][]byte{}, status: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	out, ok := f.calls[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("no such method")
	}
	return out, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(10), BaseFee: big.NewInt(7)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, TxHash: hash, GasUsed: 90_000, Logs: f.logs}, nil
}

func (f *fakeBackend) lastSent(t *testing.T) *types.Transaction {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func newTestEthLedger(t *testing.T, backend Backend) *EthLedger {
	t.Helper()
	keys, err := crypto.NewKeyring(nil)
	require.NoError(t, err)
	_, err = keys.Add(testKey)
	require.NoError(t, err)
	return NewEthLedger(backend, keys, EthConfig{
		ChainID:      big.NewInt(31337),
		Contracts:    testContracts,
		PollInterval: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEthLedger_EscrowApprovesVenueContract(t *testing.T) {
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend)

	err := l.Escrow(context.Background(), testAccount, domain.VenueCarbonAuction, big.NewInt(500))
	require.NoError(t, err)

	tx := backend.lastSent(t)
	assert.Equal(t, testContracts.CarbonToken, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())

	args, err := TokenABI.Methods["approve"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, testContracts.CarbonMarket, args[0])
	assert.Equal(t, big.NewInt(500), args[1])

	signer := types.LatestSignerForChainID(big.NewInt(31337))
	from, err := types.Sender(signer, tx)
	require.NoError(t, err)
	assert.Equal(t, testAccount, from.Hex())
}

func TestEthLedger_CreateSellOrderReadsEventID(t *testing.T) {
	backend := newFakeBackend()
	backend.pending = 2
	backend.logs = []*types.Log{{
		Address: testContracts.EnergyTrading,
		Topics: []common.Hash{
			TradingABI.Events["SellOrderCreated"].ID,
			common.BigToHash(big.NewInt(42)),
			common.BytesToHash(common.HexToAddress(testAccount).Bytes()),
		},
	}}
	l := newTestEthLedger(t, backend)

	id, err := l.CreateSellOrder(context.Background(), testAccount, big.NewInt(10), big.NewInt(100), "tsq4bu")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, 0, backend.pending)
}

func TestEthLedger_CreateAuctionCarbonPassesDurationSeconds(t *testing.T) {
	backend := newFakeBackend()
	backend.logs = []*types.Log{{
		Topics: []common.Hash{
			CarbonMarketABI.Events["AuctionCreated"].ID,
			common.BigToHash(big.NewInt(3)),
		},
	}}
	l := newTestEthLedger(t, backend)

	id, err := l.CreateAuction(context.Background(), testAccount, domain.AuctionTerms{
		Kind:         domain.TokenCarbon,
		TokenAmount:  big.NewInt(5),
		BasePrice:    big.NewInt(1000),
		DurationDays: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	tx := backend.lastSent(t)
	assert.Equal(t, testContracts.CarbonMarket, *tx.To())
	args, err := CarbonMarketABI.Methods["createAuction"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2*86400), args[2])
}

func TestEthLedger_PlaceBidSendsValue(t *testing.T) {
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend)

	value := domain.SubmittedBid(big.NewInt(2000))
	require.NoError(t, l.PlaceBid(context.Background(), testAccount, domain.TokenEnergy, 1, value))

	tx := backend.lastSent(t)
	assert.Equal(t, testContracts.P2PAuction, *tx.To())
	assert.Equal(t, big.NewInt(2020), tx.Value())
}

func TestEthLedger_RevertMapsToRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.estimate = errors.New("execution reverted: Bid too low")
	l := newTestEthLedger(t, backend)

	err := l.PlaceBid(context.Background(), testAccount, domain.TokenEnergy, 1, big.NewInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, backend.sent)
}

func TestEthLedger_FailedReceiptMapsToRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.status = types.ReceiptStatusFailed
	l := newTestEthLedger(t, backend)

	err := l.FinalizeAuction(context.Background(), testAccount, domain.TokenEnergy, 1)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)
}

func TestEthLedger_EscrowRevertIsEscrowFailed(t *testing.T) {
	backend := newFakeBackend()
	backend.estimate = errors.New("execution reverted")
	l := newTestEthLedger(t, backend)

	err := l.Escrow(context.Background(), testAccount, domain.VenueOrderBook, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrEscrowFailed)
}

func TestEthLedger_UnknownAccount(t *testing.T) {
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend)

	err := l.BuyTokens(context.Background(), "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)

	err = l.BuyTokens(context.Background(), "not-an-address", big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestEthLedger_SellOrderRead(t *testing.T) {
	backend := newFakeBackend()
	seller := common.HexToAddress(testAccount)
	out, err := TradingABI.Methods["sellOrders"].Outputs.Pack(
		seller, big.NewInt(10), big.NewInt(4), big.NewInt(100), "tsq4bu", true)
	require.NoError(t, err)
	backend.calls[string(TradingABI.Methods["sellOrders"].ID)] = out
	l := newTestEthLedger(t, backend)

	o, err := l.SellOrder(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), o.ID)
	assert.Equal(t, testAccount, o.Seller)
	assert.Equal(t, big.NewInt(4), o.Remaining)
	assert.Equal(t, "tsq4bu", o.LocationToken)
	assert.True(t, o.Open())
}

func TestEthLedger_SellOrderZeroSlotIsNotFound(t *testing.T) {
	backend := newFakeBackend()
	out, err := TradingABI.Methods["sellOrders"].Outputs.Pack(
		common.Address{}, new(big.Int), new(big.Int), new(big.Int), "", false)
	require.NoError(t, err)
	backend.calls[string(TradingABI.Methods["sellOrders"].ID)] = out
	l := newTestEthLedger(t, backend)

	_, err = l.SellOrder(context.Background(), 77)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestEthLedger_BalanceAndTokenPrice(t *testing.T) {
	backend := newFakeBackend()
	bal, err := TokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(1234))
	require.NoError(t, err)
	backend.calls[string(TokenABI.Methods["balanceOf"].ID)] = bal
	price, err := TokenABI.Methods["tokenPrice"].Outputs.Pack(big.NewInt(100))
	require.NoError(t, err)
	backend.calls[string(TokenABI.Methods["tokenPrice"].ID)] = price
	l := newTestEthLedger(t, backend)

	got, err := l.Balance(context.Background(), domain.TokenCarbon, testAccount)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1234), got)

	p, err := l.TokenPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), p)
}

func TestEthLedger_CallFailureIsExternal(t *testing.T) {
	l := newTestEthLedger(t, newFakeBackend())
	_, err := l.DayStart(context.Background())
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

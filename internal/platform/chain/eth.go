package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/geomarket/internal/crypto"
	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Backend is the subset of *ethclient.Client the ledger uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Contracts holds the deployed contract addresses.
type Contracts struct {
	EnergyToken   common.Address
	EnergyTrading common.Address
	P2PAuction    common.Address
	CarbonToken   common.Address
	CarbonMarket  common.Address
}

// EthConfig configures an EthLedger.
type EthConfig struct {
	ChainID        *big.Int
	Contracts      Contracts
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// EthLedger implements domain.Ledger over JSON-RPC. Mutations are signed
// EIP-1559 transactions from keyring accounts; each one is awaited until its
// receipt arrives, even if the caller's context is cancelled meanwhile.
type EthLedger struct {
	backend Backend
	keys    *crypto.Keyring
	cfg     EthConfig
	logger  *slog.Logger

	mu      sync.Mutex
	senders map[common.Address]*sync.Mutex
}

// NewEthLedger creates an EthLedger.
func NewEthLedger(backend Backend, keys *crypto.Keyring, cfg EthConfig, logger *slog.Logger) *EthLedger {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &EthLedger{
		backend: backend,
		keys:    keys,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "chain_ledger")),
		senders: make(map[common.Address]*sync.Mutex),
	}
}

func (l *EthLedger) senderLock(addr common.Address) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.senders[addr]
	if !ok {
		m = &sync.Mutex{}
		l.senders[addr] = m
	}
	return m
}

func parseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: %q: %w", s, domain.ErrInvalidAddress)
	}
	return common.HexToAddress(s), nil
}

// call runs a read-only contract method and unpacks its outputs.
func (l *EthLedger) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w: %w", method, domain.ErrExternalService, err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w: %w", method, domain.ErrExternalService, err)
	}
	return vals, nil
}

// transact signs and sends one transaction from caller and waits for its
// receipt. A reverted estimate or receipt maps to domain.ErrLedgerRejected.
func (l *EthLedger) transact(ctx context.Context, caller string, to common.Address, value *big.Int, contract abi.ABI, method string, args ...any) (*types.Receipt, error) {
	from, err := parseAccount(caller)
	if err != nil {
		return nil, err
	}
	if !l.keys.Has(caller) {
		return nil, fmt.Errorf("chain: %s: %w", from.Hex(), domain.ErrUnknownAccount)
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}

	lock := l.senderLock(from)
	lock.Lock()
	defer lock.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: %s nonce: %w: %w", method, domain.ErrExternalService, err)
	}
	tip, err := l.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: %s gas tip: %w: %w", method, domain.ErrExternalService, err)
	}
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: %s head: %w: %w", method, domain.ErrExternalService, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, classifyRevert(method, err)
	}
	gas = gas * 12 / 10

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   l.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := l.keys.SignTx(from, tx, l.cfg.ChainID)
	if err != nil {
		return nil, err
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifyRevert(method, err)
	}

	// Once sent, the transaction is awaited regardless of the caller.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := l.waitReceipt(waitCtx, signed.Hash())
	if err != nil {
		l.logger.ErrorContext(ctx, "chain: receipt wait failed",
			slog.String("method", method),
			slog.String("tx", signed.Hash().Hex()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("chain: %s receipt %s: %w: %w", method, signed.Hash().Hex(), domain.ErrExternalService, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: %s tx %s reverted: %w", method, signed.Hash().Hex(), domain.ErrLedgerRejected)
	}
	l.logger.DebugContext(ctx, "chain: transaction confirmed",
		slog.String("method", method),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

func (l *EthLedger) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func classifyRevert(method string, err error) error {
	if strings.Contains(err.Error(), "execution reverted") {
		return fmt.Errorf("chain: %s: %w: %v", method, domain.ErrLedgerRejected, err)
	}
	if strings.Contains(err.Error(), "insufficient funds") {
		return fmt.Errorf("chain: %s: %w: %v", method, domain.ErrInsufficientFunds, err)
	}
	return fmt.Errorf("chain: %s: %w: %w", method, domain.ErrExternalService, err)
}

// createdID reads the indexed id of the first matching event in receipt.
func createdID(receipt *types.Receipt, event abi.Event) (uint64, error) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) >= 2 && lg.Topics[0] == event.ID {
			return new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(), nil
		}
	}
	return 0, fmt.Errorf("chain: %s event missing from receipt: %w", event.Name, domain.ErrExternalService)
}

func (l *EthLedger) venueAddresses(venue domain.LedgerVenue) (token, spender common.Address, err error) {
	c := l.cfg.Contracts
	switch venue {
	case domain.VenueOrderBook:
		return c.EnergyToken, c.EnergyTrading, nil
	case domain.VenueEnergyAuction:
		return c.EnergyToken, c.P2PAuction, nil
	case domain.VenueCarbonAuction:
		return c.CarbonToken, c.CarbonMarket, nil
	default:
		return common.Address{}, common.Address{}, fmt.Errorf("chain: unknown venue %q: %w", venue, domain.ErrValidation)
	}
}

func (l *EthLedger) auctionContract(kind domain.TokenKind) (common.Address, abi.ABI) {
	if kind == domain.TokenCarbon {
		return l.cfg.Contracts.CarbonMarket, CarbonMarketABI
	}
	return l.cfg.Contracts.P2PAuction, P2PAuctionABI
}

func (l *EthLedger) Escrow(ctx context.Context, caller string, venue domain.LedgerVenue, amount *big.Int) error {
	token, spender, err := l.venueAddresses(venue)
	if err != nil {
		return err
	}
	if _, err := l.transact(ctx, caller, token, nil, TokenABI, "approve", spender, amount); err != nil {
		if errors.Is(err, domain.ErrLedgerRejected) {
			return fmt.Errorf("%w: %w", domain.ErrEscrowFailed, err)
		}
		return err
	}
	return nil
}

func (l *EthLedger) CreateSellOrder(ctx context.Context, caller string, amount, unitPrice *big.Int, locationToken string) (uint64, error) {
	receipt, err := l.transact(ctx, caller, l.cfg.Contracts.EnergyTrading, nil, TradingABI, "CreateSellOrder", amount, unitPrice, locationToken)
	if err != nil {
		return 0, err
	}
	return createdID(receipt, TradingABI.Events["SellOrderCreated"])
}

func (l *EthLedger) CancelSellOrder(ctx context.Context, caller string, orderID uint64) error {
	_, err := l.transact(ctx, caller, l.cfg.Contracts.EnergyTrading, nil, TradingABI, "cancelSellOrder", new(big.Int).SetUint64(orderID))
	return err
}

func (l *EthLedger) ExecuteTrade(ctx context.Context, caller string, orderID uint64, amount, fee, payable *big.Int) error {
	_, err := l.transact(ctx, caller, l.cfg.Contracts.EnergyTrading, payable, TradingABI, "executeTrade",
		new(big.Int).SetUint64(orderID), amount, fee)
	return err
}

type sellOrderOut struct {
	Seller       common.Address
	Amount       *big.Int
	Remaining    *big.Int
	PricePerUnit *big.Int
	Geohash      string
	Active       bool
}

func (o sellOrderOut) toDomain(id uint64) domain.SellOrder {
	return domain.SellOrder{
		ID:            id,
		Seller:        o.Seller.Hex(),
		Amount:        o.Amount,
		Remaining:     o.Remaining,
		UnitPrice:     o.PricePerUnit,
		LocationToken: o.Geohash,
		Active:        o.Active,
	}
}

func (l *EthLedger) SellOrder(ctx context.Context, orderID uint64) (domain.SellOrder, error) {
	to := l.cfg.Contracts.EnergyTrading
	data, err := TradingABI.Pack("sellOrders", new(big.Int).SetUint64(orderID))
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("chain: pack sellOrders: %w", err)
	}
	raw, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("chain: call sellOrders: %w: %w", domain.ErrExternalService, err)
	}
	var out sellOrderOut
	if err := TradingABI.UnpackIntoInterface(&out, "sellOrders", raw); err != nil {
		return domain.SellOrder{}, fmt.Errorf("chain: unpack sellOrders: %w: %w", domain.ErrExternalService, err)
	}
	// Unused mapping slots come back zeroed.
	if out.Seller == (common.Address{}) {
		return domain.SellOrder{}, domain.ErrOrderNotFound
	}
	return out.toDomain(orderID), nil
}

func (l *EthLedger) SellOrders(ctx context.Context) ([]domain.SellOrder, error) {
	vals, err := l.call(ctx, l.cfg.Contracts.EnergyTrading, TradingABI, "getListOfSellOrders")
	if err != nil {
		return nil, err
	}
	orders := *abi.ConvertType(vals[0], new([]sellOrderOut)).(*[]sellOrderOut)
	ids := *abi.ConvertType(vals[1], new([]*big.Int)).(*[]*big.Int)
	out := make([]domain.SellOrder, 0, len(orders))
	for i, o := range orders {
		if i >= len(ids) || !o.Active {
			continue
		}
		out = append(out, o.toDomain(ids[i].Uint64()))
	}
	return out, nil
}

func (l *EthLedger) CreateAuction(ctx context.Context, caller string, terms domain.AuctionTerms) (uint64, error) {
	to, contract := l.auctionContract(terms.Kind)
	args := []any{terms.TokenAmount, terms.BasePrice}
	if terms.Kind == domain.TokenCarbon {
		args = append(args, big.NewInt(terms.DurationDays*86400))
	}
	receipt, err := l.transact(ctx, caller, to, nil, contract, "createAuction", args...)
	if err != nil {
		return 0, err
	}
	return createdID(receipt, contract.Events["AuctionCreated"])
}

func (l *EthLedger) PlaceBid(ctx context.Context, caller string, kind domain.TokenKind, auctionID uint64, value *big.Int) error {
	to, contract := l.auctionContract(kind)
	_, err := l.transact(ctx, caller, to, value, contract, "placeBid", new(big.Int).SetUint64(auctionID))
	return err
}

func (l *EthLedger) FinalizeAuction(ctx context.Context, caller string, kind domain.TokenKind, auctionID uint64) error {
	to, contract := l.auctionContract(kind)
	_, err := l.transact(ctx, caller, to, nil, contract, "finalizeAuction", new(big.Int).SetUint64(auctionID))
	return err
}

type auctionOut struct {
	Seller        common.Address
	TokenAmount   *big.Int
	BasePrice     *big.Int
	StartTime     *big.Int
	EndTime       *big.Int
	HighestBidder common.Address
	HighestBid    *big.Int
	IsFinalized   bool
}

func (a auctionOut) toDomain(kind domain.TokenKind, id uint64) domain.Auction {
	out := domain.Auction{
		ID:          id,
		Kind:        kind,
		Seller:      a.Seller.Hex(),
		TokenAmount: a.TokenAmount,
		BasePrice:   a.BasePrice,
		StartTime:   time.Unix(a.StartTime.Int64(), 0).UTC(),
		EndTime:     time.Unix(a.EndTime.Int64(), 0).UTC(),
		HighestBid:  a.HighestBid,
		Finalized:   a.IsFinalized,
	}
	if a.HighestBidder != (common.Address{}) {
		out.HighestBidder = a.HighestBidder.Hex()
	}
	return out
}

func (l *EthLedger) Auction(ctx context.Context, kind domain.TokenKind, auctionID uint64) (domain.Auction, error) {
	to, contract := l.auctionContract(kind)
	data, err := contract.Pack("auctions", new(big.Int).SetUint64(auctionID))
	if err != nil {
		return domain.Auction{}, fmt.Errorf("chain: pack auctions: %w", err)
	}
	raw, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("chain: call auctions: %w: %w", domain.ErrExternalService, err)
	}
	var out auctionOut
	if err := contract.UnpackIntoInterface(&out, "auctions", raw); err != nil {
		return domain.Auction{}, fmt.Errorf("chain: unpack auctions: %w: %w", domain.ErrExternalService, err)
	}
	if out.Seller == (common.Address{}) {
		return domain.Auction{}, domain.ErrAuctionNotFound
	}
	return out.toDomain(kind, auctionID), nil
}

func (l *EthLedger) Auctions(ctx context.Context, kind domain.TokenKind) ([]domain.Auction, error) {
	to, contract := l.auctionContract(kind)
	vals, err := l.call(ctx, to, contract, "getActiveAuctions")
	if err != nil {
		return nil, err
	}
	ids := *abi.ConvertType(vals[0], new([]*big.Int)).(*[]*big.Int)
	data := *abi.ConvertType(vals[1], new([]auctionOut)).(*[]auctionOut)
	out := make([]domain.Auction, 0, len(ids))
	for i, id := range ids {
		if i >= len(data) {
			break
		}
		out = append(out, data[i].toDomain(kind, id.Uint64()))
	}
	return out, nil
}

func (l *EthLedger) DayStart(ctx context.Context) (time.Time, error) {
	vals, err := l.call(ctx, l.cfg.Contracts.P2PAuction, P2PAuctionABI, "dayStart")
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(vals[0].(*big.Int).Int64(), 0).UTC(), nil
}

func (l *EthLedger) SetDayStart(ctx context.Context, caller string, at time.Time) error {
	_, err := l.transact(ctx, caller, l.cfg.Contracts.P2PAuction, nil, P2PAuctionABI, "setDayStart", big.NewInt(at.Unix()))
	return err
}

func (l *EthLedger) TokenPrice(ctx context.Context) (*big.Int, error) {
	vals, err := l.call(ctx, l.cfg.Contracts.EnergyToken, TokenABI, "tokenPrice")
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (l *EthLedger) BuyTokens(ctx context.Context, caller string, value *big.Int) error {
	_, err := l.transact(ctx, caller, l.cfg.Contracts.EnergyToken, value, TokenABI, "buyTokens")
	return err
}

func (l *EthLedger) Balance(ctx context.Context, kind domain.TokenKind, account string) (*big.Int, error) {
	addr, err := parseAccount(account)
	if err != nil {
		return nil, err
	}
	token := l.cfg.Contracts.EnergyToken
	if kind == domain.TokenCarbon {
		token = l.cfg.Contracts.CarbonToken
	}
	vals, err := l.call(ctx, token, TokenABI, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

var _ domain.Ledger = (*EthLedger)(nil)

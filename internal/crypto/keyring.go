package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Keyring holds the secp256k1 keys of the accounts this service may act
// for on the Ledger, indexed by address.
type Keyring struct {
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyring loads every configured key. Duplicate keys collapse to one
// entry.
func NewKeyring(cfgs []KeyConfig) (*Keyring, error) {
	kr := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey, len(cfgs))}
	for i, cfg := range cfgs {
		keyHex, err := LoadKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("crypto/keyring: account %d: %w", i, err)
		}
		if _, err := kr.Add(keyHex); err != nil {
			return nil, fmt.Errorf("crypto/keyring: account %d: %w", i, err)
		}
	}
	return kr, nil
}

// Add parses a hex private key and returns its address.
func (k *Keyring) Add(privateKeyHex string) (common.Address, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/keyring: invalid private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	k.keys[addr] = pk
	return addr, nil
}

// Has reports whether the keyring can sign for address.
func (k *Keyring) Has(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	_, ok := k.keys[common.HexToAddress(address)]
	return ok
}

// Addresses lists the keyring's accounts in checksum form, sorted.
func (k *Keyring) Addresses() []string {
	out := make([]string, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr.Hex())
	}
	sort.Strings(out)
	return out
}

// SignTx signs tx for chainID with the key of from. It returns
// domain.ErrUnknownAccount when the keyring holds no key for from.
func (k *Keyring) SignTx(from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	pk, ok := k.keys[from]
	if !ok {
		return nil, fmt.Errorf("crypto/keyring: %s: %w", from.Hex(), domain.ErrUnknownAccount)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), pk)
	if err != nil {
		return nil, fmt.Errorf("crypto/keyring: sign tx: %w", err)
	}
	return signed, nil
}

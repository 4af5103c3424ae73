package crypto

import (
	"bytes"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Hardhat's first default account.
const (
	testKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
}

func TestNewKeyring_FromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	kr, err := NewKeyring([]KeyConfig{
		{EncryptedKeyPath: path, KeyPassword: "pw"},
		{RawPrivateKey: "0x" + testKey},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{testAddr}, kr.Addresses())
	assert.True(t, kr.Has(testAddr))
	assert.False(t, kr.Has("0x0000000000000000000000000000000000000001"))
	assert.False(t, kr.Has("not-an-address"))

	_, err = NewKeyring([]KeyConfig{{}})
	assert.Error(t, err)
}

func TestKeyring_SignTx(t *testing.T) {
	kr, err := NewKeyring([]KeyConfig{{RawPrivateKey: testKey}})
	require.NoError(t, err)

	chainID := big.NewInt(31337)
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})

	signed, err := kr.SignTx(common.HexToAddress(testAddr), tx, chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, testAddr, sender.Hex())

	_, err = kr.SignTx(common.HexToAddress("0x01"), tx, chainID)
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
}

func TestHMACAuth_SignVerify(t *testing.T) {
	auth := &HMACAuth{Key: "oracle", Secret: "s3cret"}
	body := []byte(`{"buyAmount":"10"}`)
	now := time.Unix(1_760_000_000, 0)

	req, err := http.NewRequest(http.MethodPost, "http://oracle/generate-witness", bytes.NewReader(body))
	require.NoError(t, err)
	auth.SignAt(req, body, now.Unix())

	assert.NoError(t, auth.Verify(req, body, now.Add(10*time.Second), time.Minute))
	assert.ErrorIs(t, auth.Verify(req, []byte(`{"buyAmount":"11"}`), now, time.Minute), ErrBadSignature)
	assert.ErrorIs(t, auth.Verify(req, body, now.Add(2*time.Minute), time.Minute), ErrBadSignature)

	other := &HMACAuth{Key: "oracle", Secret: "different"}
	assert.ErrorIs(t, other.Verify(req, body, now, time.Minute), ErrBadSignature)
	assert.Equal(t, "HMACAuth{key=orac****, secret=s3cr****}", auth.String())
}

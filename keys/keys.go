// Package keys implements the HD key hierarchy (§3, §4.A): mnemonic
// generation/import, a fixed derivation path with a reserved identity
// index and rotating trade indices, and the trade-index cursor.
//
// Derivation follows the pattern of the teacher's pkg/wallet/util.go
// (tdex-network-tdex-daemon) — hdkeychain.NewMaster plus a chain of
// Derive calls along a fixed hardened prefix — generalized from a
// single two-level account path to the four-level Mostro path
// 44'/1237'/38383'/0, with a final non-hardened child per key index.
package keys

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	bip39 "github.com/vulpemventures/go-bip39"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

// IdentityIndex is the reserved child index for the identity key.
const IdentityIndex uint32 = 0

const (
	purposeStep  = hdkeychain.HardenedKeyStart + 44
	coinTypeStep = hdkeychain.HardenedKeyStart + 1237
	accountStep  = hdkeychain.HardenedKeyStart + 38383
	changeStep   = 0
)

// KeyPair is a derived private scalar together with its x-only public key.
type KeyPair struct {
	Priv     *btcec.PrivateKey
	PubXOnly [32]byte
}

// PubHex returns the lowercase-hex encoding of the x-only public key.
func (kp KeyPair) PubHex() string {
	return hex.EncodeToString(kp.PubXOnly[:])
}

// Keys holds a loaded seed and the live trade-index cursor. The mnemonic
// leaves this type only through Mnemonic(); derived keys are handed out by
// value.
type Keys struct {
	mnemonic   string
	baseNode   *hdkeychain.ExtendedKey
	tradeIndex uint32
	persist    func(uint32) error
}

// setPersistHook installs fn to be called with the new cursor value after
// every advance, so an owning Store can write the trade-index cursor back
// to disk (§3 "Trade-index cursor", §4.A load_or_create). Keys constructed
// directly via FromMnemonic, without a Store, keep the cursor in memory
// only.
func (k *Keys) setPersistHook(fn func(uint32) error) {
	k.persist = fn
}

// GenerateMnemonic creates a fresh 12-word BIP-39 mnemonic from 128 bits
// of entropy.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", mostroerr.Wrap(mostroerr.KindMnemonicInvalid, "generating entropy", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", mostroerr.Wrap(mostroerr.KindMnemonicInvalid, "encoding mnemonic", err)
	}
	return phrase, nil
}

// ValidateMnemonic reports whether phrase passes the English wordlist
// checksum.
func ValidateMnemonic(phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return false
	}
	// IsMnemonicValid only checks word count and wordlist membership;
	// MnemonicToByteArray also verifies the checksum bits.
	_, err := bip39.MnemonicToByteArray(phrase)
	return err == nil
}

// FromMnemonic derives the base node (the node at 44'/1237'/38383'/0,
// the direct parent of every identity/trade key index) from phrase, and
// sets the trade-index cursor to startIndex (clamped to a minimum of 1).
func FromMnemonic(phrase string, startIndex uint32) (*Keys, error) {
	phrase = strings.TrimSpace(phrase)
	if !ValidateMnemonic(phrase) {
		return nil, mostroerr.New(mostroerr.KindMnemonicInvalid, "mnemonic fails checksum")
	}

	seed := bip39.NewSeed(phrase, "")
	node, err := deriveBaseNode(seed)
	if err != nil {
		return nil, err
	}

	if startIndex < 1 {
		startIndex = 1
	}
	return &Keys{mnemonic: phrase, baseNode: node, tradeIndex: startIndex}, nil
}

func deriveBaseNode(seed []byte) (*hdkeychain.ExtendedKey, error) {
	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindMnemonicInvalid, "deriving master key", err)
	}
	for _, step := range []uint32{purposeStep, coinTypeStep, accountStep, changeStep} {
		node, err = node.Derive(step)
		if err != nil {
			return nil, mostroerr.Wrap(mostroerr.KindMnemonicInvalid, "deriving base path", err)
		}
	}
	return node, nil
}

func (k *Keys) deriveIndex(index uint32) (KeyPair, error) {
	child, err := k.baseNode.Derive(index)
	if err != nil {
		return KeyPair{}, mostroerr.Wrap(mostroerr.KindInvalidIndex, "deriving child key", err)
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return KeyPair{}, mostroerr.Wrap(mostroerr.KindInvalidIndex, "extracting private key", err)
	}

	var xOnly [32]byte
	copy(xOnly[:], priv.PubKey().SerializeCompressed()[1:])
	return KeyPair{Priv: priv, PubXOnly: xOnly}, nil
}

// IdentityKeypair derives the fixed identity key at index 0.
func (k *Keys) IdentityKeypair() (KeyPair, error) {
	return k.deriveIndex(IdentityIndex)
}

// TradeKeypair derives the trade key at index. index must be ≥ 1.
func (k *Keys) TradeKeypair(index uint32) (KeyPair, error) {
	if index < 1 {
		return KeyPair{}, mostroerr.New(mostroerr.KindInvalidIndex, "trade index must be >= 1")
	}
	return k.deriveIndex(index)
}

// NextTradeKeypair derives the trade key at the current cursor value and
// atomically advances the cursor, persisting the new value if a Store
// attached a persist hook.
func (k *Keys) NextTradeKeypair() (KeyPair, uint32, error) {
	index := k.tradeIndex
	kp, err := k.TradeKeypair(index)
	if err != nil {
		return KeyPair{}, 0, err
	}
	k.tradeIndex = index + 1
	if k.persist != nil {
		if err := k.persist(k.tradeIndex); err != nil {
			return KeyPair{}, 0, err
		}
	}
	return kp, index, nil
}

// SetTradeIndex overwrites the cursor, used during session restore, and
// persists the new value if a Store attached a persist hook.
func (k *Keys) SetTradeIndex(n uint32) error {
	if n < 1 {
		return mostroerr.New(mostroerr.KindInvalidIndex, "trade index must be >= 1")
	}
	k.tradeIndex = n
	if k.persist != nil {
		return k.persist(n)
	}
	return nil
}

// CurrentTradeIndex returns the next unused trade index.
func (k *Keys) CurrentTradeIndex() uint32 {
	return k.tradeIndex
}

// Mnemonic returns the 12-word phrase backing this key set. Callers must
// never log or persist this value outside of Store.
func (k *Keys) Mnemonic() string {
	return k.mnemonic
}

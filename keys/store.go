// Store persists the mnemonic seed under the user's data directory,
// optionally behind a passphrase-derived key (§9 "Seed encryption" open
// item). The plaintext-identity persistence pattern (owner-only file
// mode, encrypt-then-store when a passphrase is present) is grounded in
// the teacher's node/identity.go SaveIdentity/LoadIdentity, adapted from
// ECDSA/AES-GCM to a BIP-39 phrase under ChaCha20-Poly1305.
package keys

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/term"

	"crypto/rand"
	"crypto/sha256"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

const (
	seedFileName       = "seed"
	tradeStateFileName = "trade-state.json"
	pbkdf2Rounds       = 210_000
	pbkdf2KeyLen       = 32
	plainMagic         = "mostro-seed-v1\n"
	encryptedMagic     = "mostro-seed-enc-v1\n"
)

// tradeState is the on-disk shape of the trade-index cursor (§3 "Trade-index
// cursor", §4.A load_or_create): a monotonically increasing integer
// persisted alongside the seed so a fresh process resumes trade-key
// allocation where the last one left off instead of reusing indices.
type tradeState struct {
	TradeIndex uint32 `json:"trade_index"`
}

// Store manages the seed file for a single user data directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating dir with owner-only
// permissions if it does not already exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "creating data directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) seedPath() string {
	return filepath.Join(s.dir, seedFileName)
}

func (s *Store) tradeStatePath() string {
	return filepath.Join(s.dir, tradeStateFileName)
}

// LoadOrCreate loads an existing seed file, or generates and persists a
// new mnemonic if none exists. passphrase may be empty, in which case
// the seed is stored in clear (the documented default behaviour).
// startIndex seeds the trade-index cursor only when no trade-state file
// exists yet; otherwise the persisted cursor wins. The returned Keys
// writes its cursor back to that file on every advance.
func (s *Store) LoadOrCreate(passphrase string, startIndex uint32) (k *Keys, wasNew bool, err error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if _, statErr := os.Stat(s.seedPath()); statErr == nil {
		phrase, loadErr := s.readSeed(passphrase)
		if loadErr != nil {
			return nil, false, loadErr
		}
		if persisted, ok, readErr := s.readTradeIndex(); readErr != nil {
			return nil, false, readErr
		} else if ok {
			startIndex = persisted
		}
		keys, keysErr := FromMnemonic(phrase, startIndex)
		if keysErr != nil {
			return nil, false, keysErr
		}
		keys.setPersistHook(s.persistTradeIndex)
		return keys, false, nil
	}

	phrase, err := GenerateMnemonic()
	if err != nil {
		return nil, false, err
	}
	if err := s.writeSeed(phrase, passphrase); err != nil {
		return nil, false, err
	}
	keys, err := FromMnemonic(phrase, 1)
	if err != nil {
		return nil, false, err
	}
	if err := s.writeTradeIndex(1); err != nil {
		return nil, false, err
	}
	keys.setPersistHook(s.persistTradeIndex)
	return keys, true, nil
}

// Import persists a user-supplied mnemonic, overwriting any existing seed
// file, and returns the derived Keys. The trade-index cursor is reset to
// startIndex, overwriting whatever cursor an unrelated prior seed left behind.
func (s *Store) Import(phrase, passphrase string, startIndex uint32) (*Keys, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	phrase = strings.TrimSpace(phrase)
	if !ValidateMnemonic(phrase) {
		return nil, mostroerr.New(mostroerr.KindMnemonicInvalid, "mnemonic fails checksum")
	}
	if err := s.writeSeed(phrase, passphrase); err != nil {
		return nil, err
	}
	keys, err := FromMnemonic(phrase, startIndex)
	if err != nil {
		return nil, err
	}
	if err := s.writeTradeIndex(keys.CurrentTradeIndex()); err != nil {
		return nil, err
	}
	keys.setPersistHook(s.persistTradeIndex)
	return keys, nil
}

func (s *Store) writeSeed(phrase, passphrase string) error {
	var blob []byte
	if passphrase == "" {
		blob = append([]byte(plainMagic), []byte(phrase)...)
	} else {
		sealed, err := encryptSeed(phrase, passphrase)
		if err != nil {
			return err
		}
		blob = append([]byte(encryptedMagic), sealed...)
	}
	if err := os.WriteFile(s.seedPath(), blob, 0600); err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "writing seed file", err)
	}
	return nil
}

func (s *Store) readSeed(passphrase string) (string, error) {
	data, err := os.ReadFile(s.seedPath())
	if err != nil {
		return "", mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading seed file", err)
	}
	switch {
	case strings.HasPrefix(string(data), plainMagic):
		return strings.TrimSpace(string(data[len(plainMagic):])), nil
	case strings.HasPrefix(string(data), encryptedMagic):
		if passphrase == "" {
			passphrase, err = promptPassphrase()
			if err != nil {
				return "", err
			}
		}
		phrase, err := decryptSeed(data[len(encryptedMagic):], passphrase)
		if err != nil {
			return "", err
		}
		return phrase, nil
	default:
		return "", mostroerr.New(mostroerr.KindConfigInvalid, "unrecognized seed file format")
	}
}

func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "seed passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading passphrase", err)
	}
	return string(raw), nil
}

// encryptSeed stretches passphrase with PBKDF2-SHA256 and seals phrase
// under ChaCha20-Poly1305. Wire format: 16-byte salt || 12-byte nonce ||
// ciphertext+tag.
func encryptSeed(phrase, passphrase string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "generating salt", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, pbkdf2KeyLen, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "building AEAD", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "generating nonce", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(phrase), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func decryptSeed(blob []byte, passphrase string) (string, error) {
	if len(blob) < 16+12 {
		return "", mostroerr.New(mostroerr.KindDecryptFailed, "encrypted seed file truncated")
	}
	salt, rest := blob[:16], blob[16:]
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, pbkdf2KeyLen, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", mostroerr.Wrap(mostroerr.KindDecryptFailed, "building AEAD", err)
	}
	if len(rest) < aead.NonceSize() {
		return "", mostroerr.New(mostroerr.KindDecryptFailed, "encrypted seed file truncated")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", mostroerr.Wrap(mostroerr.KindDecryptFailed, "wrong passphrase or corrupted seed file", err)
	}
	return string(plaintext), nil
}

// lock takes an advisory exclusive flock on the seed file's directory
// marker, narrowing the race between concurrent CLI invocations (§9
// "Concurrent process safety"). It does not eliminate the race: a
// process that crashes mid-write still leaves a torn file.
func (s *Store) lock() (unlock func(), err error) {
	lockPath := filepath.Join(s.dir, ".seed.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "opening lock file", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "locking seed file", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// lockTradeState guards trade-state.json the same way lock guards the seed
// file, under its own lock file so a cursor advance never contends with a
// concurrent seed read/write.
func (s *Store) lockTradeState() (unlock func(), err error) {
	lockPath := filepath.Join(s.dir, ".trade-state.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "opening trade state lock file", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "locking trade state file", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// readTradeIndex returns the persisted cursor, or ok=false if no
// trade-state file has been written yet.
func (s *Store) readTradeIndex() (index uint32, ok bool, err error) {
	unlock, err := s.lockTradeState()
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	data, statErr := os.ReadFile(s.tradeStatePath())
	if os.IsNotExist(statErr) {
		return 0, false, nil
	}
	if statErr != nil {
		return 0, false, mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading trade state", statErr)
	}
	var st tradeState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, false, mostroerr.Wrap(mostroerr.KindConfigInvalid, "parsing trade state", err)
	}
	return st.TradeIndex, true, nil
}

// writeTradeIndex overwrites the persisted cursor with index.
func (s *Store) writeTradeIndex(index uint32) error {
	unlock, err := s.lockTradeState()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.Marshal(tradeState{TradeIndex: index})
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "encoding trade state", err)
	}
	if err := os.WriteFile(s.tradeStatePath(), data, 0600); err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "writing trade state", err)
	}
	return nil
}

// persistTradeIndex is installed as a Keys persist hook so every cursor
// advance (NextTradeKeypair, SetTradeIndex) is written back to disk before
// the caller can observe the new value.
func (s *Store) persistTradeIndex(index uint32) error {
	return s.writeTradeIndex(index)
}

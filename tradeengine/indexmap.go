package tradeengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

const indexMapFileName = "trade-index-map.json"

// IndexMap persists which trade-key index was used for which order, the
// supplemented resolution of spec.md §9's "Order→trade-index mapping"
// open question. Without it, lifecycle actions on an existing order have
// no way to know which of the user's many trade keys authored it.
type IndexMap struct {
	path string
	mu   sync.Mutex
}

// NewIndexMap returns an IndexMap persisted under dir.
func NewIndexMap(dir string) (*IndexMap, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "creating state directory", err)
	}
	return &IndexMap{path: filepath.Join(dir, indexMapFileName)}, nil
}

func (m *IndexMap) read() (map[string]uint32, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return map[string]uint32{}, nil
	}
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading trade index map", err)
	}
	out := map[string]uint32{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "parsing trade index map", err)
	}
	return out, nil
}

func (m *IndexMap) write(entries map[string]uint32) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "encoding trade index map", err)
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return mostroerr.Wrap(mostroerr.KindConfigInvalid, "writing trade index map", err)
	}
	return nil
}

func (m *IndexMap) lock() (unlock func(), err error) {
	f, err := os.OpenFile(m.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "opening lock file", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "locking trade index map", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// Set records that orderID was created/taken under tradeIndex.
func (m *IndexMap) Set(orderID string, tradeIndex uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := m.read()
	if err != nil {
		return err
	}
	entries[orderID] = tradeIndex
	return m.write(entries)
}

// Lookup returns the trade index orderID was created/taken under, falling
// back to index 1 with ok=false when the order is wholly unknown to this
// map (e.g. after a lost-state restore). Callers must log this fallback
// rather than silently trusting it (§9 "Order→trade-index mapping").
func (m *IndexMap) Lookup(orderID string) (index uint32, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.read()
	if err != nil {
		return 0, false, err
	}
	if idx, found := entries[orderID]; found {
		return idx, true, nil
	}
	return 1, false, nil
}

// AllIndices returns every distinct trade index this map has ever
// recorded, used by a multi-index restore (§9 "Single-index restore").
func (m *IndexMap) AllIndices() ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.read()
	if err != nil {
		return nil, err
	}
	seen := map[uint32]struct{}{}
	var out []uint32
	for _, idx := range entries {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out, nil
}

package parameters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
)

const snapshotExt = ".json"

// Repository keeps parameter values per key (a plugin id or workflow node id)
// in memory and persists named snapshots as flat JSON documents in dir.
type Repository struct {
	mu     sync.RWMutex
	dir    string
	values map[string]Values
	logger logger.Logger
}

// NewRepository creates a repository that stores snapshots under dir. The
// directory is created on first write.
func NewRepository(dir string, log logger.Logger) *Repository {
	return &Repository{
		dir:    dir,
		values: make(map[string]Values),
		logger: logger.OrNop(log),
	}
}

func (r *Repository) Dir() string {
	return r.dir
}

// Save stores a copy of values under key.
func (r *Repository) Save(key string, values Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = values.Clone()
}

// Load returns a copy of the values stored under key.
func (r *Repository) Load(key string) (Values, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

func (r *Repository) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
}

func (r *Repository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = make(map[string]Values)
}

// Keys lists stored keys in sorted order.
func (r *Repository) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SaveSnapshot writes values to <dir>/<name>.json. The file is replaced
// atomically so a crash never leaves a partially written snapshot.
func (r *Repository) SaveSnapshot(name string, values Values) error {
	path, err := r.snapshotPath(name)
	if err != nil {
		return err
	}

	encoded, err := EncodeValues(values)
	if err != nil {
		return fmt.Errorf("%w: %v", verrors.ErrInvalidParameters, err)
	}
	data, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %q: %w", name, err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %q: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot %q: %w", name, err)
	}

	r.logger.Debug("ParameterRepository", "snapshot saved", map[string]interface{}{
		"name":       name,
		"parameters": len(values),
	})
	return nil
}

// LoadSnapshot reads <dir>/<name>.json. Numbers are returned as json.Number
// so integers survive exactly; use Coerce to restore typed values. A missing
// snapshot yields an empty map and no error.
func (r *Repository) LoadSnapshot(name string) (map[string]interface{}, error) {
	path, err := r.snapshotPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("read snapshot %q: %w", name, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string]interface{}{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: snapshot %q is not a JSON object: %v", verrors.ErrInvalidParameters, name, err)
	}
	return raw, nil
}

// Restore loads a snapshot and converts it with Coerce.
func (r *Repository) Restore(name string, metadata []Metadata) (Values, error) {
	raw, err := r.LoadSnapshot(name)
	if err != nil {
		return nil, err
	}
	return Coerce(metadata, raw)
}

// DeleteSnapshot removes a snapshot file. Deleting a missing snapshot is not
// an error.
func (r *Repository) DeleteSnapshot(name string) error {
	path, err := r.snapshotPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %q: %w", name, err)
	}
	return nil
}

// Snapshots lists the snapshot names present in dir.
func (r *Repository) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), snapshotExt))
	}
	sort.Strings(names)
	return names, nil
}

func (r *Repository) snapshotPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid snapshot name %q", verrors.ErrInvalidParameters, name)
	}
	return filepath.Join(r.dir, name+snapshotExt), nil
}

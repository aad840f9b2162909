package device

import (
	"fmt"
	"sync"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
)

// Settings holds a driver's tunable parameters, validated against their
// metadata on every write.
type Settings struct {
	mu     sync.RWMutex
	meta   []parameters.Metadata
	byName map[string]parameters.Metadata
	values parameters.Values
}

// NewSettings starts from the metadata defaults. It panics on inconsistent
// metadata, which is a programming error in the driver.
func NewSettings(meta []parameters.Metadata) *Settings {
	if err := parameters.CheckAll(meta); err != nil {
		panic(err)
	}
	byName := make(map[string]parameters.Metadata, len(meta))
	for _, m := range meta {
		byName[m.Name] = m
	}
	return &Settings{
		meta:   parameters.CloneAll(meta),
		byName: byName,
		values: parameters.Defaults(meta),
	}
}

func (s *Settings) Set(key string, value any) error {
	m, ok := s.byName[key]
	if !ok {
		return fmt.Errorf("%w: unknown device parameter %q", verrors.ErrInvalidParameters, key)
	}
	if m.ReadOnly {
		return fmt.Errorf("%w: device parameter %q is read-only", verrors.ErrInvalidParameters, key)
	}
	if res := parameters.Validate([]parameters.Metadata{m}, parameters.Values{key: value}); !res.Valid() {
		return res.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *Settings) Get(key string) (any, error) {
	if _, ok := s.byName[key]; !ok {
		return nil, fmt.Errorf("%w: unknown device parameter %q", verrors.ErrInvalidParameters, key)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// Values returns a copy of the current values.
func (s *Settings) Values() parameters.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Clone()
}

func (s *Settings) Metadata() []parameters.Metadata {
	return parameters.CloneAll(s.meta)
}

// Package cfgwatch delivers data source configuration to the memory
// manager, from a file on disk or from a Kubernetes ConfigMap, and keeps
// delivering it whenever the source changes.
package cfgwatch

import (
	"bytes"
	"context"
	"sync"

	"jabberwocky238/jw238memmgr/datasrc"
)

// ApplyFunc receives every new, successfully parsed configuration.
type ApplyFunc func(cfg *datasrc.Config) error

// Source is a watched data source configuration.
type Source interface {
	// Load reads the configuration once and applies it.
	Load(ctx context.Context) error
	// Watch applies every later change. It blocks until ctx is cancelled.
	Watch(ctx context.Context) error
}

// applier parses raw configuration and hands it to apply, skipping
// documents identical to the last one applied.
type applier struct {
	apply ApplyFunc

	mu   sync.Mutex
	last []byte
}

func (a *applier) applyRaw(data []byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.last != nil && bytes.Equal(a.last, data) {
		return false, nil
	}
	cfg, err := datasrc.ParseConfig(data)
	if err != nil {
		return false, err
	}
	if err := a.apply(cfg); err != nil {
		return false, err
	}
	a.last = append([]byte(nil), data...)
	return true, nil
}

package sqlite

import (
	"errors"
	"sync"

	"github.com/relves/hcsdid/internal/storage"
)

// StoreManager manages one Ledger per network with caching.
type StoreManager struct {
	basePath string
	opts     []Option
	ledgers  map[string]*Ledger // network -> ledger
	mu       sync.RWMutex
}

// NewStoreManager creates a new StoreManager. opts apply to every ledger
// it opens.
func NewStoreManager(basePath string, opts ...Option) *StoreManager {
	return &StoreManager{
		basePath: basePath,
		opts:     opts,
		ledgers:  make(map[string]*Ledger),
	}
}

// GetLedger returns the Ledger for the given network.
// Ledgers are cached and reused.
func (m *StoreManager) GetLedger(network string) (*Ledger, error) {
	// Check cache first
	m.mu.RLock()
	if l, ok := m.ledgers[network]; ok {
		m.mu.RUnlock()
		return l, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := m.ledgers[network]; ok {
		return l, nil
	}

	l, err := OpenLedger(m.basePath, network, m.opts...)
	if err != nil {
		return nil, err
	}

	m.ledgers[network] = l
	return l, nil
}

// CloseAll closes all cached ledgers.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, l := range m.ledgers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.ledgers = make(map[string]*Ledger)
	return errors.Join(errs...)
}

// BasePath returns the base path for ledger storage.
func (m *StoreManager) BasePath() string {
	return m.basePath
}

// GetTopicLedger returns the ledger for network as a storage.TopicLedger.
func (m *StoreManager) GetTopicLedger(network string) (storage.TopicLedger, error) {
	l, err := m.GetLedger(network)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Package balance provides a lazily-refreshed, staleness-bounded snapshot of exchange balance,
// read by DecisionMaker and updated by Executor (spec §3, §4.5). Adapted from the teacher's
// balance.Manager, which already has the Lock/Unlock/Deduct/Add shape the spec needs; this version
// drops multi-user fan-out (out of scope) and adds an explicit staleness check.
package balance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ExchangeClient is the minimal balance-fetching capability Manager needs.
type ExchangeClient interface {
	GetBalance(ctx context.Context, currency string) (Balance, error)
}

// Balance represents account balance for one currency.
type Balance struct {
	Total     float64
	Available float64
	Locked    float64
}

// Cache caches the most recent balance snapshot with its fetch time.
type Cache struct {
	total     float64
	available float64
	locked    float64
	lastSync  time.Time
	mu        sync.RWMutex
}

// Manager manages account balance for a single currency.
type Manager struct {
	exchange     ExchangeClient
	currency     string
	cache        *Cache
	syncInterval time.Duration
	maxStaleness time.Duration
}

// NewManager creates a new balance manager. maxStaleness bounds how old the cached balance may be
// before GetAvailable refreshes it with Sync (default 2s, spec §5).
func NewManager(exchange ExchangeClient, currency string, syncInterval, maxStaleness time.Duration) *Manager {
	if maxStaleness == 0 {
		maxStaleness = 2 * time.Second
	}
	return &Manager{
		exchange:     exchange,
		currency:     currency,
		cache:        &Cache{},
		syncInterval: syncInterval,
		maxStaleness: maxStaleness,
	}
}

// Start begins periodic balance sync.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		log.Printf("balance: initial sync error: %v", err)
	}

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					log.Printf("balance: sync error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches the latest balance from the exchange.
func (m *Manager) Sync(ctx context.Context) error {
	if m.exchange == nil {
		return nil // dry-run / mock mode: balance set directly via SetInitialBalance
	}

	bal, err := m.exchange.GetBalance(ctx, m.currency)
	if err != nil {
		return err
	}

	m.cache.mu.Lock()
	m.cache.total = bal.Available + bal.Locked
	m.cache.available = bal.Available
	m.cache.locked = bal.Locked
	m.cache.lastSync = time.Now()
	m.cache.mu.Unlock()

	log.Printf("balance: synced total=%.2f available=%.2f locked=%.2f", bal.Available+bal.Locked, bal.Available, bal.Locked)
	return nil
}

// GetAvailable returns available balance, refreshing first if the cached value exceeds the
// staleness bound. DecisionMaker calls this on every Buy evaluation (spec §4.5).
func (m *Manager) GetAvailable(ctx context.Context) (float64, error) {
	if m.Stale() {
		if err := m.Sync(ctx); err != nil {
			return 0, fmt.Errorf("balance stale and refresh failed: %w", err)
		}
	}
	m.cache.mu.RLock()
	defer m.cache.mu.RUnlock()
	return m.cache.available, nil
}

// Stale reports whether the cached balance is older than maxStaleness.
func (m *Manager) Stale() bool {
	m.cache.mu.RLock()
	defer m.cache.mu.RUnlock()
	return m.cache.lastSync.IsZero() || time.Since(m.cache.lastSync) > m.maxStaleness
}

// Lock reserves balance for an in-flight order.
func (m *Manager) Lock(amount float64) error {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()

	if amount > m.cache.available {
		return fmt.Errorf("insufficient balance: need %.2f, have %.2f", amount, m.cache.available)
	}

	m.cache.available -= amount
	m.cache.locked += amount
	return nil
}

// Unlock releases previously locked balance (order failed/cancelled).
func (m *Manager) Unlock(amount float64) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	m.cache.locked -= amount
	m.cache.available += amount
}

// Deduct removes balance after an order fills (locked funds actually spent).
func (m *Manager) Deduct(amount float64) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	m.cache.locked -= amount
	m.cache.total -= amount
}

// Add credits balance after a sell order fills.
func (m *Manager) Add(amount float64) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	m.cache.total += amount
	m.cache.available += amount
	m.cache.lastSync = time.Now()
}

// GetBalance returns the current cached balance snapshot without forcing a refresh.
func (m *Manager) GetBalance() Balance {
	m.cache.mu.RLock()
	defer m.cache.mu.RUnlock()
	return Balance{Total: m.cache.total, Available: m.cache.available, Locked: m.cache.locked}
}

// SetInitialBalance seeds the cache directly, used for the mock exchange / dry-run mode.
func (m *Manager) SetInitialBalance(amount float64) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	m.cache.total = amount
	m.cache.available = amount
	m.cache.locked = 0
	m.cache.lastSync = time.Now()
}

package exchange

import (
	"context"
	"log"
	"sync"
	"time"
)

// timeSync tracks the offset between local and exchange server clocks so signed requests carry
// a timestamp the exchange will accept. Adapted from the Binance spot client's TimeSync helper.
type timeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

func newTimeSync(getServerTime func(ctx context.Context) (int64, error)) *timeSync {
	return &timeSync{getServerTime: getServerTime, syncInterval: 30 * time.Minute}
}

func (ts *timeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("exchange: initial time sync failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					log.Printf("exchange: time sync failed: %v", err)
				}
			}
		}
	}()
}

func (ts *timeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	networkLatency := (localAfter - localBefore) / 2
	localTime := localBefore + networkLatency

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

func (ts *timeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

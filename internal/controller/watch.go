package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/scrollframe/internal/kvstore"
)

// quotaKeys are the store keys that move the plan or the daily counter.
var quotaKeys = map[string]bool{
	kvstore.KeyDailyFrameCount:     true,
	kvstore.KeyDailyLimitResetTime: true,
	kvstore.KeyIsPro:               true,
	kvstore.KeyLicenseKey:          true,
}

// WatchQuota calls fn with the current QuotaStatus whenever a plan or quota
// key changes in the store. fn runs on the watcher goroutine, never inside
// a store write; bursts of changes collapse into one call. The returned func
// stops the watch and waits for an in-progress call.
func (s *Service) WatchQuota(fn func(QuotaStatus)) func() {
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	unsubscribe := s.kv.Subscribe(func(changes []kvstore.Change) {
		for _, c := range changes {
			if !quotaKeys[c.Key] {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
			return
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-wake:
				st, err := s.QuotaStatus(context.Background())
				if err != nil {
					slog.Warn("quota status unavailable", "error", err)
					continue
				}
				fn(st)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			wg.Wait()
		})
	}
}

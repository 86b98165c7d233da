package silence

import "time"

// Scheduler runs a task on a fixed period. The returned stop function
// halts the task and is safe to call more than once. Abstracted so
// tests can drive checks with a deterministic clock instead of tickers.
type Scheduler interface {
	Every(period time.Duration, task func()) (stop func())
}

// TickerScheduler is the production Scheduler, backed by time.Ticker.
type TickerScheduler struct{}

// Every runs task every period until stop is called.
func (TickerScheduler) Every(period time.Duration, task func()) func() {
	ticker := time.NewTicker(period)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				task()
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		ticker.Stop()
		close(done)
	}
}

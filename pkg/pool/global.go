package pool

import (
	"sync"
)

var (
	globalOnce sync.Once
	global     *ThreadPool
)

// Global returns the process wide pool, created with default options on first use and never closed
func Global() *ThreadPool {
	globalOnce.Do(func() {
		p, err := New()
		if err != nil {
			panic(err)
		}
		global = p
	})
	return global
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines used by the CPU kernels.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers: it limits the number of tasks running in parallel.
type Pool struct {
	// maxParallelism is the limit of tasks running in parallel.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// MaxParallelism returns the limit of tasks running in parallel.
// If 0, parallelism is disabled, and tasks run inline.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism. A negative value means runtime.NumCPU().
//
// It should only be changed while no tasks are running.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	if maxParallelism < 0 {
		maxParallelism = runtime.NumCPU()
	}
	w.maxParallelism = maxParallelism
}

// WaitToStart waits until there is a worker available, and runs the task in a new goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning >= w.maxParallelism {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ParallelFor splits the range [0, numItems) in contiguous chunks, and calls fn for each chunk, in parallel.
// It returns when all chunks are done.
//
// minChunk is the minimum number of items per chunk: small ranges are not worth a goroutine.
// A panic in fn is re-thrown in the calling goroutine.
func (w *Pool) ParallelFor(numItems, minChunk int, fn func(start, end int)) {
	if numItems <= 0 {
		return
	}
	numChunks := max(w.maxParallelism, 1)
	chunkSize := max((numItems+numChunks-1)/numChunks, minChunk, 1)
	if !w.IsEnabled() || chunkSize >= numItems {
		fn(0, numItems)
		return
	}
	var (
		wg         sync.WaitGroup
		muPanic    sync.Mutex
		firstPanic any
	)
	for start := 0; start < numItems; start += chunkSize {
		end := min(start+chunkSize, numItems)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					muPanic.Lock()
					if firstPanic == nil {
						firstPanic = r
					}
					muPanic.Unlock()
				}
			}()
			fn(start, end)
		})
	}
	wg.Wait()
	if firstPanic != nil {
		panic(firstPanic)
	}
}

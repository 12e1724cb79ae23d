// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package relax

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Loop runs tasks, each on its own goroutine, with at most width of them
// running at once.
type Loop struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewLoop returns a Loop running at most width tasks at once. A width of
// zero or less means no limit.
func NewLoop(width int) *Loop {
	l := &Loop{}
	if width > 0 {
		l.sem = semaphore.NewWeighted(int64(width))
	}
	return l
}

// Go schedules fn. It returns [ErrClosed], without running fn, once the loop
// is closed. fn receives nil once it holds a slot, or the error of ctx if ctx
// ends while it waits for one.
func (l *Loop) Go(ctx context.Context, fn func(err error)) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if l.sem != nil {
			if err := l.sem.Acquire(ctx, 1); err != nil {
				fn(err)
				return
			}
			defer l.sem.Release(1)
		}
		fn(nil)
	}()
	return nil
}

// Close stops the loop from accepting tasks, and waits for scheduled ones to
// finish. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}

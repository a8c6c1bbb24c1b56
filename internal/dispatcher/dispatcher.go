// Package dispatcher fans a fixed list of jobs out to a bounded pool of
// workers and collects the results in input order.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
)

// Outcome pairs a job's value with its error. Exactly one is meaningful.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Workers returns the pool size used for n jobs at the requested
// parallelism: at least one, and never more than n.
func Workers(parallel, n int) int {
	if parallel < 1 {
		parallel = 1
	}
	if parallel > n {
		parallel = n
	}
	return parallel
}

// Run processes every input with fn using Workers(parallel, len(inputs))
// goroutines that share a cursor. Output slot i always holds the outcome of
// inputs[i]. A failing job never stops the others.
func Run[In, Out any](ctx context.Context, inputs []In, parallel int, fn func(ctx context.Context, index int, in In) (Out, error)) []Outcome[Out] {
	out := make([]Outcome[Out], len(inputs))
	if len(inputs) == 0 {
		return out
	}

	var (
		cursor atomic.Int64
		wg     sync.WaitGroup
	)
	for w := 0; w < Workers(parallel, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(inputs) {
					return
				}
				v, err := fn(ctx, i, inputs[i])
				out[i] = Outcome[Out]{Value: v, Err: err}
			}
		}()
	}
	wg.Wait()
	return out
}

package txn

import "sync"

// Worker wraps a batch of transactions on a single logical thread,
// running each one at most maxRetries times in total (the first run
// included) while it returns false (§4.8).
type Worker struct {
	transactions []*Transaction
	maxRetries   int

	wg     sync.WaitGroup
	result int
}

// NewWorker creates a worker over transactions, running each at most
// maxRetries times in total.
func NewWorker(transactions []*Transaction, maxRetries int) *Worker {
	return &Worker{transactions: transactions, maxRetries: maxRetries}
}

// Run starts the worker's thread. Callers await completion with Join.
func (w *Worker) Run() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		successes := 0
		for _, tx := range w.transactions {
			ok := false
			for attempt := 0; attempt < w.maxRetries && !ok; attempt++ {
				ok = tx.Run()
			}
			if ok {
				successes++
			}
		}
		w.result = successes
	}()
}

// Join blocks until the worker's thread finishes and returns the count of
// ultimately successful transactions.
func (w *Worker) Join() int {
	w.wg.Wait()
	return w.result
}

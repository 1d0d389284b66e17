package retry

import "sync"

// Budget counts consecutive connection failures against a Policy ceiling.
type Budget struct {
	mu       sync.Mutex
	policy   Policy
	failures int
}

func NewBudget(policy Policy) *Budget {
	return &Budget{policy: policy}
}

// RecordFailure counts a failure and returns the new count and whether the
// ceiling has now been reached.
func (b *Budget) RecordFailure() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	return b.failures, b.policy.Exhausted(b.failures)
}

// Failures is the number of failures since the last Reset.
func (b *Budget) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset clears the failure count, e.g. after a successful connect or an
// explicit user retry.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

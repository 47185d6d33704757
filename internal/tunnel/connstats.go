package tunnel

import (
	"fmt"
	"sync/atomic"
)

// flowStats tracks how many flows a node (server or client, across all of
// its mappings) has ever opened and how many are currently open. Used
// only for log lines -- spec.md §1 explicitly excludes a metrics surface.
type flowStats struct {
	total int32
	open  int32
}

// opened records a newly accepted/dialed flow and returns the new total.
func (s *flowStats) opened() int32 {
	atomic.AddInt32(&s.open, 1)
	return atomic.AddInt32(&s.total, 1)
}

// closed records a flow finishing.
func (s *flowStats) closed() {
	atomic.AddInt32(&s.open, -1)
}

func (s *flowStats) String() string {
	return fmt.Sprintf("[open:%d total:%d]", atomic.LoadInt32(&s.open), atomic.LoadInt32(&s.total))
}

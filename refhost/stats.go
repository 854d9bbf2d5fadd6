package refhost

import "context"

type counters struct {
	allocated       uint64
	collected       uint64
	gcRuns          uint64
	finalizers      uint64
	worksCompleted  uint64
	worksCancelled  uint64
	tsfnCalls       uint64
	promisesSettled uint64
}

// Stats is a snapshot of host activity.
type Stats struct {
	Allocated       uint64
	Collected       uint64
	GCRuns          uint64
	FinalizersRun   uint64
	WorksCompleted  uint64
	WorksCancelled  uint64
	ThreadsafeCalls uint64
	PromisesSettled uint64
	LiveObjects     int
	LiveHandles     int
	LiveReferences  int
	PendingWork     int
	ThreadsafeFuncs int
	ReferencedTsfns int
	Environments    int
	Uncaught        int
}

// Stats returns counters and live resource sizes.
func (h *Host) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.loop.call(ctx, func() {
		c := h.stats
		s = Stats{
			Allocated:       c.allocated,
			Collected:       c.collected,
			GCRuns:          c.gcRuns,
			FinalizersRun:   c.finalizers,
			WorksCompleted:  c.worksCompleted,
			WorksCancelled:  c.worksCancelled,
			ThreadsafeCalls: c.tsfnCalls,
			PromisesSettled: c.promisesSettled,
			LiveObjects:     len(h.objects),
			LiveHandles:     len(h.handles),
			LiveReferences:  len(h.refs),
			PendingWork:     h.busy.pending(),
			Environments:    len(h.envs),
		}
		for _, t := range h.liveTsfns() {
			s.ThreadsafeFuncs++
			t.mu.Lock()
			if t.refed {
				s.ReferencedTsfns++
			}
			t.mu.Unlock()
		}
		h.mu.Lock()
		s.Uncaught = len(h.uncaught)
		h.mu.Unlock()
	})
	return s, err
}

package task

import "time"

// Start begins the scheduler's dispatch loop in a background goroutine,
// grounded on the teacher's async.BackgroundIndexer start/stop shape:
// a buffered stop channel and a done channel the caller can wait on.
// idle is how long the loop sleeps after finding nothing to run.
func (s *Scheduler) Start(idle time.Duration) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(idle)
}

func (s *Scheduler) loop(idle time.Duration) {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		ran, err := s.RunNext()
		if err != nil {
			// A dispatch-level error (store corruption, no runner) is
			// not itself a task failure; back off and retry rather than
			// spinning.
			time.Sleep(idle)
			continue
		}
		if !ran {
			select {
			case <-s.stopCh:
				return
			case <-time.After(idle):
			}
		}
	}
}

// Stop signals the dispatch loop to exit after its current batch (if
// any) finishes, and waits for it to do so.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

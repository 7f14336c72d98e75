package cozyfs

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// IdleLoop runs Session.Idle on a fixed interval in the background,
// the CozyFS analogue of the teacher's own autoFlush goroutine (a
// ticker racing a close channel, with a WaitGroup the stop path waits
// on before returning). Embedders that already have their own timer
// (an event loop, a cron job) should call Idle directly instead and
// skip this helper entirely.
type IdleLoop struct {
	s        *Session
	interval time.Duration

	stopped uint32
	closeC  chan struct{}
	done    sync.WaitGroup
}

// StartIdleLoop begins calling s.Idle every interval until Stop is
// called. interval should be comfortably shorter than
// Option.LockHoldTimeout so a transaction left open across an idle
// tick gets refreshed before it expires.
func StartIdleLoop(s *Session, interval time.Duration) *IdleLoop {
	l := &IdleLoop{
		s:        s,
		interval: interval,
		closeC:   make(chan struct{}),
	}
	l.done.Add(1)
	go l.run()
	return l
}

func (l *IdleLoop) run() {
	defer l.done.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.s.Idle(); err != nil {
				l.s.log.Warn("idle cycle failed", zap.Error(err))
			}
		case <-l.closeC:
			return
		}
	}
}

// Stop ends the loop and waits for its goroutine to exit.
func (l *IdleLoop) Stop() {
	if !atomic.CompareAndSwapUint32(&l.stopped, 0, 1) {
		return
	}
	close(l.closeC)
	l.done.Wait()
}

package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/zhufengning/bililink/pkg/logger"
)

// Sweeper periodically trims a Ledger on a cron schedule.
type Sweeper struct {
	ledger   *Ledger
	expr     string
	gronx    *gronx.Gronx
	now      func() time.Time
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	nextRun  time.Time
	lastRun  time.Time
	swept    int
}

func NewSweeper(ledger *Ledger, expr string) *Sweeper {
	return &Sweeper{
		ledger: ledger,
		expr:   expr,
		gronx:  gronx.New(),
		now:    time.Now,
	}
}

// Enabled is false when no schedule is configured.
func (s *Sweeper) Enabled() bool {
	return s.expr != ""
}

func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !s.Enabled() {
		return nil
	}
	if !s.gronx.IsValid(s.expr) {
		return fmt.Errorf("invalid sweep schedule %q", s.expr)
	}

	next, err := gronx.NextTickAfter(s.expr, s.now(), false)
	if err != nil {
		return fmt.Errorf("compute next sweep: %w", err)
	}
	s.nextRun = next
	s.stopChan = make(chan struct{})
	s.running = true
	go s.runLoop(s.stopChan)

	logger.InfoCF("dedup", "Ledger sweeper started", map[string]interface{}{
		"schedule": s.expr,
		"next_run": next.Format(time.DateTime),
	})
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

func (s *Sweeper) runLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.runDue(s.now())
		}
	}
}

// runDue sweeps when the scheduled time has passed and schedules the next
// run. It returns whether a sweep happened.
func (s *Sweeper) runDue(now time.Time) bool {
	s.mu.Lock()
	if !s.running || now.Before(s.nextRun) {
		s.mu.Unlock()
		return false
	}
	next, err := gronx.NextTickAfter(s.expr, now, false)
	if err != nil {
		logger.WarnCF("dedup", "Failed to compute next sweep", map[string]interface{}{
			"schedule": s.expr,
			"error":    err.Error(),
		})
		next = now.Add(time.Minute)
	}
	s.nextRun = next
	s.mu.Unlock()

	removed := s.ledger.Sweep(now)

	s.mu.Lock()
	s.lastRun = now
	s.swept += removed
	s.mu.Unlock()

	logger.DebugCF("dedup", "Ledger swept", map[string]interface{}{
		"removed":   removed,
		"remaining": s.ledger.Len(),
	})
	return true
}

func (s *Sweeper) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"enabled":  s.Enabled(),
		"running":  s.running,
		"schedule": s.expr,
		"swept":    s.swept,
		"entries":  s.ledger.Len(),
	}
	if !s.nextRun.IsZero() {
		status["next_run"] = s.nextRun
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun
	}
	return status
}

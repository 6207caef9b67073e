package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/engine"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
)

// Config holds scheduler timing settings.
type Config struct {
	// TickInterval is the spacing between trading ticks.
	TickInterval time.Duration
	// TickDeadline bounds one whole tick across all users. It must be
	// shorter than TickInterval so a slow tick cannot bleed into the next.
	TickDeadline time.Duration
	// MaxConcurrentUsers bounds the per-tick user fan-out.
	MaxConcurrentUsers int
	// SweepInterval is the cadence of the expired-alert sweeper.
	SweepInterval time.Duration
	// ShutdownGrace is how long Stop waits for an in-flight tick before
	// cancelling it.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the stock scheduler settings.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:       5 * time.Minute,
		TickDeadline:       4 * time.Minute,
		MaxConcurrentUsers: 5,
		SweepInterval:      time.Minute,
		ShutdownGrace:      30 * time.Second,
	}
}

// UserSource lists the users to tick and their watchlists.
type UserSource interface {
	ListActiveUsers(ctx context.Context) ([]database.User, error)
	GetUserWatchlist(ctx context.Context, userID int64) ([]string, error)
}

// TickRunner runs one user's trading tick.
type TickRunner interface {
	RunUserTick(ctx context.Context, user database.User, watchlist []string) (*engine.TradingLoopResult, error)
	SweepAlerts(ctx context.Context) int
}

// Scheduler fires trading ticks at absolute interval boundaries during
// market hours. At most one tick runs at a time; fires that land while a
// tick is still running are skipped, not queued.
type Scheduler struct {
	clock  *MarketClock
	users  UserSource
	runner TickRunner
	config *Config
	log    *logging.Logger

	mu          sync.Mutex
	running     bool
	tickRunning bool
	stopChan    chan struct{}
	cancelTick  context.CancelFunc
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates a scheduler. A nil config selects the defaults.
func New(clock *MarketClock, users UserSource, runner TickRunner, config *Config, log *logging.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logging.Default()
	}
	return &Scheduler{
		clock:    clock,
		users:    users,
		runner:   runner,
		config:   config,
		log:      log.WithComponent("scheduler"),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the tick loop and the alert sweeper.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("scheduler starting",
		"tick_interval", s.config.TickInterval.String(),
		"tick_deadline", s.config.TickDeadline.String(),
		"max_concurrent_users", s.config.MaxConcurrentUsers)

	s.wg.Add(2)
	go s.runTickLoop()
	go s.runSweepLoop()
	return nil
}

// Stop completes the current tick and shuts down. An in-flight tick gets
// the shutdown grace period before its context is cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownGrace):
		s.log.Warn("shutdown grace exceeded, cancelling in-flight tick")
		s.mu.Lock()
		if s.cancelTick != nil {
			s.cancelTick()
		}
		s.mu.Unlock()
		<-done
	}

	s.log.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runTickLoop fires RunTradingJob at each interval boundary.
func (s *Scheduler) runTickLoop() {
	defer s.wg.Done()

	for {
		wait := s.clock.NextBoundary(s.now(), s.config.TickInterval).Sub(s.now())
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.RunTradingJob()
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// runSweepLoop periodically prunes expired alerts.
func (s *Scheduler) runSweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.runner.SweepAlerts(context.Background()); removed > 0 {
				s.log.Info("expired alerts swept", "removed", removed)
			}
		case <-s.stopChan:
			return
		}
	}
}

// RunTradingJob executes one tick now if the market is open and no tick is
// already in flight. Exposed for manual triggering.
func (s *Scheduler) RunTradingJob() {
	if !s.clock.IsMarketHours(s.now()) {
		s.log.Debug("market closed, skipping tick")
		return
	}

	s.mu.Lock()
	if s.tickRunning {
		s.mu.Unlock()
		s.log.Warn("previous tick still running, skipping this fire")
		return
	}
	s.tickRunning = true
	ctx, cancel := context.WithTimeout(context.Background(), s.config.TickDeadline)
	s.cancelTick = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.tickRunning = false
		s.cancelTick = nil
		s.mu.Unlock()
	}()

	s.runTick(ctx)
}

// runTick fans one tick out across active users with bounded concurrency.
// Each user's engine holds its own state, so users are independent.
func (s *Scheduler) runTick(ctx context.Context) {
	started := time.Now()
	log := logging.TickContext()
	ctx = logging.NewContext(ctx, log)

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		log.Error("failed to list active users", "error", err)
		return
	}
	if len(users) == 0 {
		return
	}
	log.Info("tick started", "users", len(users))

	semaphore := make(chan struct{}, s.config.MaxConcurrentUsers)
	var wg sync.WaitGroup

	for _, user := range users {
		select {
		case <-ctx.Done():
			log.Warn("tick deadline reached, remaining users skipped", "error", ctx.Err())
			wg.Wait()
			return
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(u database.User) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic in user tick", "user_id", u.ID, "panic", fmt.Sprintf("%v", r))
				}
			}()
			s.runUserTick(ctx, u, log)
		}(user)
	}

	wg.Wait()
	log.Info("tick completed", "users", len(users), "duration", time.Since(started).String())
}

func (s *Scheduler) runUserTick(ctx context.Context, user database.User, log *logging.Logger) {
	watchlist, err := s.users.GetUserWatchlist(ctx, user.ID)
	if err != nil {
		log.Error("failed to load watchlist", "user_id", user.ID, "error", err)
		return
	}

	result, err := s.runner.RunUserTick(ctx, user, watchlist)
	if err != nil {
		log.Error("user tick failed", "user_id", user.ID, "error", err)
		return
	}

	if len(result.Errors) > 0 {
		log.Warn("user tick finished with errors", "user_id", user.ID, "errors", result.Errors)
	}
	log.Info("user tick finished",
		"user_id", user.ID,
		"processed", result.ProcessedStocks,
		"signals", result.SignalsGenerated,
		"orders", result.OrdersExecuted,
		"alerts", result.AlertsSent)
}

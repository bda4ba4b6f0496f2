// Package jobs runs the periodic sweep that moves lapsed links out of the
// active set, purges files that have sat in the trash past retention and
// prunes stale rate limit counters.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/sharegate/sharegate/pkg/logger"
)

const defaultTaskTimeout = 5 * time.Minute

var (
	sweepRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_sweep_removed_total",
		Help: "Rows expired, deactivated or purged by the sweeper, by task",
	}, []string{"task"})

	sweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharegate_sweep_failures_total",
		Help: "Sweep task runs that returned an error, by task",
	}, []string{"task"})
)

// Task is one unit of sweep work. Run reports how many rows it touched.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

type Result struct {
	Task    string `json:"task"`
	Removed int64  `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// Sweeper runs its tasks on a cron schedule. Runs never overlap: a tick that
// fires while the previous run is still going is skipped.
type Sweeper struct {
	cron    *cron.Cron
	tasks   []Task
	timeout time.Duration
	now     func() time.Time
	log     *logger.Logger
	running sync.Mutex
}

func NewSweeper(schedule string, tasks ...Task) (*Sweeper, error) {
	s := &Sweeper{
		tasks:   tasks,
		timeout: defaultTaskTimeout,
		now:     time.Now,
		log:     logger.Component("sweeper"),
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{})))
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info().Int("tasks", len(s.tasks)).Msg("Sweeper started")
}

// Stop halts the schedule and waits for an in-flight run, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("Sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	if !s.running.TryLock() {
		s.log.Warn().Msg("Sweep skipped: previous run still in progress")
		return
	}
	defer s.running.Unlock()
	s.run(context.Background())
}

// RunOnce runs every task now, waiting for any scheduled run to finish first.
func (s *Sweeper) RunOnce(ctx context.Context) []Result {
	s.running.Lock()
	defer s.running.Unlock()
	return s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) []Result {
	ctx = logger.ContextWithLogger(ctx, s.log)
	started := s.now()
	results := make([]Result, 0, len(s.tasks))
	for _, task := range s.tasks {
		results = append(results, s.runTask(ctx, task, started))
	}
	s.log.Info().
		Dur("duration", time.Since(started)).
		Interface("results", results).
		Msg("Sweep completed")
	return results
}

func (s *Sweeper) runTask(ctx context.Context, task Task, now time.Time) Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := Result{Task: task.Name}
	removed, err := task.Run(ctx, now)
	result.Removed = removed
	if removed > 0 {
		sweepRemoved.WithLabelValues(task.Name).Add(float64(removed))
	}
	if err != nil {
		sweepFailures.WithLabelValues(task.Name).Inc()
		logger.FromContext(ctx).Error().Err(err).Str("task", task.Name).Msg("Sweep task failed")
		result.Error = err.Error()
	}
	return result
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

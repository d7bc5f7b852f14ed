package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/venuepay/internal/metrics"
)

// Job is one periodic sweep.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (Report, error)
}

// Report summarizes one sweep run.
type Report struct {
	Job       string
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
}

func (r Report) String() string {
	return fmt.Sprintf("%s: processed=%d succeeded=%d skipped=%d failed=%d",
		r.Job, r.Processed, r.Succeeded, r.Skipped, r.Failed)
}

// Scheduler runs each job on its own ticker until the context is cancelled.
type Scheduler struct {
	jobs    []Job
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewScheduler(m *metrics.Metrics, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, metrics: m}
}

// Start launches every job. Each runs once immediately, then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			log.Printf("[Scheduler] Job %s disabled", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	log.Printf("[Scheduler] Job %s every %s", job.Name, job.Interval)

	s.RunOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes one pass of job and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (Report, error) {
	report, err := job.Run(ctx)
	s.metrics.ObserveSweep(job.Name, err)
	if err != nil {
		log.Printf("[Scheduler] Job %s failed: %v", job.Name, err)
		return report, err
	}
	if report.Processed > 0 {
		log.Printf("[Scheduler] %s", report)
	}
	return report, nil
}

// runItem isolates one sweep item so a panic or error does not stop the batch.
func runItem(job string, m *metrics.Metrics, report *Report, fn func() (bool, error)) {
	report.Processed++
	var (
		done bool
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		done, err = fn()
	}()

	switch {
	case err != nil:
		report.Failed++
		m.ObserveSweepItem(job, "failed")
		log.Printf("[Scheduler] %s item failed: %v", job, err)
	case done:
		report.Succeeded++
		m.ObserveSweepItem(job, "succeeded")
	default:
		report.Skipped++
		m.ObserveSweepItem(job, "skipped")
	}
}

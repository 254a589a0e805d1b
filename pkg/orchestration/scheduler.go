package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/dynatrace"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

// runGrace is added to the poll interval to form the deadline of one run.
const runGrace = 2 * time.Minute

// PreLaunchCheck verifies a token can be acquired and services are configured,
// and logs the connectivity diagnostic. The loaded services are returned.
func (o *Orchestrator) PreLaunchCheck(ctx context.Context) ([]metrics.GCPService, error) {
	token, err := o.deps.Tokens.AcquireToken(ctx)
	if err == nil && token == "" {
		err = core.ErrTokenUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("pre-launch check: %w", err)
	}

	if o.deps.Connectivity != nil {
		url, key := o.config.Dynatrace.URL, o.config.Dynatrace.AccessKey
		if o.deps.Credentials != nil && (url == "" || key == "") {
			if u, k, err := o.deps.Credentials.ResolveDynatraceCredentials(ctx, token, o.config.ProjectID, url, key); err == nil {
				url, key = u, k
			}
		}
		valid := o.deps.Connectivity.CheckConnectivity(ctx, url, key)
		o.logger.Info("Dynatrace connectivity check finished", map[string]interface{}{
			"url":   url,
			"token": dynatrace.ObfuscateAccessKey(key),
			"valid": valid,
		})
	}

	if o.deps.LoadServices == nil {
		return nil, fmt.Errorf("pre-launch check: %w", core.ErrNoServices)
	}
	services, err := o.deps.LoadServices()
	if err != nil {
		return nil, fmt.Errorf("pre-launch check: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("pre-launch check: %w", core.ErrNoServices)
	}
	return services, nil
}

// Scheduler polls a Runner at a fixed interval.
type Scheduler struct {
	runner   Runner
	services []metrics.GCPService
	interval time.Duration
	logger   logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler running runner every interval with services.
func NewScheduler(runner Runner, services []metrics.GCPService, interval time.Duration, log logger.Logger) *Scheduler {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Scheduler{
		runner:   runner,
		services: services,
		interval: interval,
		logger:   log,
		sleep:    sleepContext,
	}
}

// Start polls until ctx is cancelled. Each run gets a deadline of the interval
// plus two minutes; the next run starts one interval after the previous one
// started, or immediately when the previous run took longer.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduled polling", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
		"services":         len(s.services),
	})

	for {
		started := time.Now()

		runCtx, cancel := context.WithTimeout(ctx, s.interval+runGrace)
		err := s.runner.Run(runCtx, "", s.services)
		cancel()

		duration := time.Since(started)
		if err != nil {
			s.logger.Error("Execution failed", map[string]interface{}{
				"error":            err.Error(),
				"duration_seconds": duration.Seconds(),
			})
		}

		wait := s.interval - duration
		if wait < 0 {
			wait = 0
		}
		s.logger.Debug("Waiting for next execution", map[string]interface{}{"wait_seconds": wait.Seconds()})

		if err := s.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Info("Scheduled polling stopped")
				return nil
			}
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

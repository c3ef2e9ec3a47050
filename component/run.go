package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
)

// Status codes returned by Run and StopRun
const (
	StatusOK     = 0
	StatusFailed = 1
)

// Run clears the stop signal, starts every worker in registration order and
// blocks until the signal is set or ctx is done, then returns the StopRun
// status. Only the first call runs the component; every other call returns
// the same status.
func (c *Component) Run(ctx context.Context) int {
	c.runOnce.Do(func() {
		c.runStatus = c.run(ctx)
	})
	return c.runStatus
}

func (c *Component) run(ctx context.Context) int {
	c.lifeMu.Lock()
	if !c.lifecycle.CompareAndSwap(int32(Created), int32(Running)) {
		// StopRun came first
		c.lifeMu.Unlock()
		<-c.stopped
		return c.stopStatus
	}

	c.stop.Clear()
	stopped := c.stop.Done()
	workerCtx, cancel := c.stop.Context(ctx)
	defer cancel()

	c.mu.RLock()
	workers := append([]worker.Worker(nil), c.workers...)
	c.mu.RUnlock()

	c.logger.Info("Component starting", "workers", len(workers), "endpoint", c.endpoint)
	c.recordStatus(metric.StatusRunning)

	for _, w := range workers {
		if err := w.Start(workerCtx); err != nil {
			c.startErr = errors.Wrap(err, "Component", "Run", fmt.Sprintf("start %q", w.Name()))
			break
		}
	}
	startErr := c.startErr
	c.lifeMu.Unlock()

	if startErr != nil {
		c.logger.Error("Failed to start worker", "error", startErr)
		return c.StopRun(context.WithoutCancel(ctx))
	}

	if c.metricsServer != nil {
		go func() {
			if err := c.metricsServer.Start(); err != nil {
				c.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	if c.handleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				c.logger.Info("Received signal, stopping", "signal", sig.String())
				c.StopRun(context.Background())
			case <-c.stopped:
			}
		}()
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		c.logger.Info("Run context done, stopping", "reason", ctx.Err())
	}

	return c.StopRun(context.WithoutCancel(ctx))
}

// StopRun sets the stop signal, calls the teardown hook and joins every
// worker. It returns 0 when everything joined cleanly and 1 otherwise. It is
// safe to call from signal handlers and control requests; calls after the
// first wait for it and return the same status.
func (c *Component) StopRun(ctx context.Context) int {
	c.stopOnce.Do(func() {
		c.stopStatus = c.stopRun(ctx)
		close(c.stopped)
	})
	<-c.stopped
	return c.stopStatus
}

func (c *Component) stopRun(ctx context.Context) int {
	c.lifeMu.Lock()
	c.lifecycle.Store(int32(Stopping))
	c.stop.Set()
	startErr := c.startErr
	c.lifeMu.Unlock()

	c.recordStatus(metric.StatusStopping)
	c.logger.Info("Component stopping")

	status := StatusOK
	if startErr != nil {
		status = StatusFailed
	}
	if err := c.runTeardown(ctx); err != nil {
		c.logger.Error("Teardown failed", "error", err)
		status = StatusFailed
	}

	if err := c.joinAll(ctx); err != nil {
		status = StatusFailed
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Stop(ctx); err != nil {
			c.logger.Warn("Metrics server stop failed", "error", err)
		}
	}

	c.lifecycle.Store(int32(Stopped))
	if status == StatusOK {
		c.recordStatus(metric.StatusStopped)
	} else {
		c.recordStatus(metric.StatusFailed)
	}
	c.logger.Info("Component stopped", "status", status)
	return status
}

func (c *Component) runTeardown(ctx context.Context) (err error) {
	if c.teardown == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("teardown panic: %v", p)
		}
	}()
	return c.teardown(ctx)
}

// joinAll waits for every worker concurrently, logging each failure
func (c *Component) joinAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.shutdownTimeout)
	defer cancel()

	c.mu.RLock()
	workers := append([]worker.Worker(nil), c.workers...)
	c.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			if err := w.Join(ctx); err != nil {
				c.logger.Error("Worker join failed", "worker", w.Name(), "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

func (c *Component) recordStatus(status int) {
	if c.registry != nil {
		c.registry.CoreMetrics().RecordComponentStatus(c.name, status)
	}
}

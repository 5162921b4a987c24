// Package harness bridges go test to appwright's per-test runtime. It runs
// a test body up to Retries+1 times, hands each attempt a fresh TestInfo,
// binds the device to it, and records every attempt in the report.
package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/device"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
	"github.com/bheemreddy-samsara/appwright/pkg/report"
)

// T is the slice of *testing.T the harness needs, narrowed so harness
// behavior itself is testable.
type T interface {
	Name() string
	Helper()
	Fatalf(format string, args ...interface{})
}

// TestFunc is a retryable test body. Failures are signaled by returning
// an error, not by t.Fatal, so the harness can retry. dev is nil when no
// device is configured.
type TestFunc func(ti *TestInfo, dev *device.Device) error

// Options configures one harness-run test.
type Options struct {
	// Name is the display title, t.Name() when empty.
	Name string

	// Retries is the number of extra attempts after a failed first one.
	Retries int

	// Timeout bounds each attempt. Zero means no limit. When an attempt
	// times out, its goroutine is abandoned and left to finish whatever
	// driver call it is blocked on.
	Timeout time.Duration

	// Trace and Screenshots set the ambient capture policy for attempts.
	Trace       core.TraceMode
	Screenshots core.ScreenshotMode

	// Device is bound to each attempt when set.
	Device *device.Device

	// Report receives steps, attempts and attachments when set.
	Report *report.Run

	Logger logrus.FieldLogger
}

// envOverrides are environment knobs that win over Options, so a CI job
// can turn tracing on without a code change.
type envOverrides struct {
	Trace       null.String `envconfig:"APPWRIGHT_TRACE"`
	Screenshots null.String `envconfig:"APPWRIGHT_SCREENSHOTS"`
	Retries     null.Int    `envconfig:"APPWRIGHT_RETRIES"`
}

func (o Options) withEnv() Options {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return o
	}
	if env.Trace.Valid {
		o.Trace = core.TraceMode(env.Trace.String)
	}
	if env.Screenshots.Valid {
		o.Screenshots = core.ScreenshotMode(env.Screenshots.String)
	}
	if env.Retries.Valid {
		o.Retries = int(env.Retries.Int64)
	}
	return o
}

var (
	// errBodyAborted marks a body that killed its own goroutine, which is
	// what t.FailNow inside fn does. The harness stops retrying then.
	errBodyAborted = errors.New("test body aborted before returning")

	// errStepAborted marks a step cut short by a panic unwinding through it.
	errStepAborted = errors.New("step aborted")
)

// panicError carries the recovered value and stack of a panicking body.
type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("test panicked: %v\n%s", e.value, e.stack)
}

// Run executes fn under the harness. The attempt is retried while it
// fails and retries remain; the host test fails only when the last
// attempt does.
func Run(t T, opts Options, fn TestFunc) {
	t.Helper()
	runLoop(t, opts, fn, nil)
}

func runLoop(t T, opts Options, fn TestFunc, coordinator *device.Persistent) {
	t.Helper()
	opts = opts.withEnv()

	log := opts.Logger
	if log == nil {
		log = logger.New("harness")
	}

	title := opts.Name
	if title == "" {
		title = t.Name()
	}

	var tw *report.TestWriter
	if opts.Report != nil {
		tw = opts.Report.Test(t.Name())
	}

	attempts := opts.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for retry := 0; retry < attempts; retry++ {
		ti := newTestInfo(t.Name(), title, retry, opts, tw, log)
		if tw != nil {
			tw.StartAttempt(retry)
		}
		if coordinator != nil {
			coordinator.Prepare(context.Background(), core.Key(ti), title)
		}
		if opts.Device != nil {
			opts.Device.BindTest(ti)
		}

		fnErr := runAttempt(ti, opts, fn)
		status := ti.finish(fnErr)

		if opts.Device != nil {
			opts.Device.ReleaseTest()
		}
		if coordinator != nil {
			coordinator.Finalize(context.Background(), core.Key(ti), status, ti.Errors())
		}
		if tw != nil {
			tw.EndAttempt(report.FromTestStatus(status), ti.firstError())
		}

		if status == core.StatusPassed {
			if retry > 0 {
				log.WithField("test", t.Name()).Infof("passed on retry %d", retry)
			}
			return
		}

		lastErr = ti.firstError()
		if errors.Is(fnErr, errBodyAborted) {
			// The host already marked the test failed, rerunning the body
			// cannot change the outcome.
			t.Fatalf("%s aborted on attempt %d: use error returns instead of t.Fatal inside harness bodies", t.Name(), retry+1)
			return
		}
		if retry < attempts-1 {
			log.WithError(lastErr).WithField("test", t.Name()).Warnf("attempt %d of %d failed, retrying", retry+1, attempts)
		}
	}

	t.Fatalf("%s failed after %d attempts: %v", t.Name(), attempts, lastErr)
}

// runAttempt runs fn on its own goroutine so a panic, a FailNow or a
// timeout cannot take the harness down with it.
func runAttempt(ti *TestInfo, opts Options, fn TestFunc) error {
	done := make(chan error, 1)
	go func() {
		var fnErr error
		completed := false
		defer func() {
			if r := recover(); r != nil {
				done <- &panicError{value: r, stack: debug.Stack()}
				return
			}
			if !completed {
				done <- errBodyAborted
				return
			}
			done <- fnErr
		}()
		fnErr = fn(ti, opts.Device)
		completed = true
	}()

	if opts.Timeout <= 0 {
		return <-done
	}

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		ti.markTimedOut()
		return core.ErrTimeout.WithMessage(fmt.Sprintf("attempt exceeded %s budget", opts.Timeout))
	}
}

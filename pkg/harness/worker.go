package harness

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/device"
	"github.com/bheemreddy-samsara/appwright/pkg/logger"
	"github.com/bheemreddy-samsara/appwright/pkg/report"
)

// Worker owns a persistent device shared by every test in one worker
// process. Tests run through the worker so the provider session is
// prepared and finalized around each attempt instead of per test.
type Worker struct {
	persistent *device.Persistent
	run        *report.Run
	logger     logrus.FieldLogger
}

// NewWorker wraps a persistent device coordinator. run may be nil when
// no report is wanted.
func NewWorker(persistent *device.Persistent, run *report.Run, log logrus.FieldLogger) *Worker {
	if log == nil {
		log = logger.New("worker")
	}
	return &Worker{persistent: persistent, run: run, logger: log}
}

// Device returns the shared device.
func (w *Worker) Device() *device.Device {
	return w.persistent.Device()
}

// Run executes fn against the worker's device. Each attempt brackets the
// provider session with Prepare and Finalize, so dashboards show the
// test currently on the device.
func (w *Worker) Run(t T, opts Options, fn TestFunc) {
	t.Helper()

	opts.Device = w.persistent.Device()
	if opts.Report == nil {
		opts.Report = w.run
	}
	if opts.Logger == nil {
		opts.Logger = w.logger
	}
	runLoop(t, opts, fn, w.persistent)
}

// Close waits for in-flight session work to settle and releases the
// device. Call it from TestMain after m.Run.
func (w *Worker) Close(ctx context.Context) error {
	return w.persistent.Close(ctx)
}

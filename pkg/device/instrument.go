package device

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// instrument runs fn as a named, collapsible step and triggers the capture
// pipeline once fn settles. The action's own outcome passes through
// unchanged: fn's error is returned as-is, and a panic keeps unwinding
// after the capture side effects run.
//
// On an unbound device (no live attempt) the action runs plain.
func (d *Device) instrument(label string, fn func() error) error {
	tc := d.testContext()
	if tc == nil {
		return fn()
	}

	return tc.Step(label, func() error {
		completed := false
		var actionErr error
		defer func() {
			d.afterAction(tc, !completed || actionErr != nil)
		}()
		actionErr = fn()
		completed = true
		return actionErr
	})
}

// afterAction resolves the attempt's engine, lazily building one on the
// worker-scoped device path where per-test setup never ran, and hands it
// the screenshot fetcher. Must never fail the action it follows.
func (d *Device) afterAction(tc core.TestContext, stepFailed bool) {
	engine := d.scope.GetOrInitialize(tc, tc.Retry())
	engine.CaptureScreenshot(d.client.Screenshot, "", stepFailed)
}

// stepLabel renders `name("selector")(arg1 , arg2 , ...)`. The selector
// part is dropped when empty; arguments render structurally.
func stepLabel(name, sel string, args ...interface{}) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("(")
	if sel != "" {
		b.WriteString(`"`)
		b.WriteString(sel)
		b.WriteString(`"`)
	}
	b.WriteString(")(")
	for i, arg := range args {
		if i > 0 {
			b.WriteString(" , ")
		}
		b.WriteString(renderArg(arg))
	}
	b.WriteString(")")
	return b.String()
}

func renderArg(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

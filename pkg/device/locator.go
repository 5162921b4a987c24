package device

import (
	"errors"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/selector"
)

// Locator is a lazy handle on an element described by a selector. Nothing
// is resolved until an action runs; every action re-resolves, so a locator
// can be built once and reused across screens.
type Locator struct {
	device *Device
	sel    selector.Selector
}

// Selector returns the locator's resolved strategy and value.
func (l *Locator) Selector() selector.Selector {
	return l.sel
}

func (l *Locator) find() (string, error) {
	return l.device.client.FindElement(l.sel.Strategy, l.sel.Value)
}

// Tap taps the element.
func (l *Locator) Tap() error {
	return l.device.instrument(stepLabel("tap", l.sel.String()), func() error {
		id, err := l.find()
		if err != nil {
			return err
		}
		return l.device.client.TapElement(id)
	})
}

// Fill types text into the element.
func (l *Locator) Fill(text string) error {
	return l.device.instrument(stepLabel("fill", l.sel.String(), text), func() error {
		id, err := l.find()
		if err != nil {
			return err
		}
		return l.device.client.SendKeysToElement(id, text)
	})
}

// Clear clears the element's text.
func (l *Locator) Clear() error {
	return l.device.instrument(stepLabel("clear", l.sel.String()), func() error {
		id, err := l.find()
		if err != nil {
			return err
		}
		return l.device.client.ClearElement(id)
	})
}

// GetText returns the element's visible text.
func (l *Locator) GetText() (string, error) {
	var text string
	err := l.device.instrument(stepLabel("getText", l.sel.String()), func() error {
		id, err := l.find()
		if err != nil {
			return err
		}
		text, err = l.device.client.ElementText(id)
		return err
	})
	return text, err
}

// IsVisible reports whether the element exists and is displayed. A missing
// element is not an error here, just false.
func (l *Locator) IsVisible() (bool, error) {
	var visible bool
	err := l.device.instrument(stepLabel("isVisible", l.sel.String()), func() error {
		id, err := l.find()
		if err != nil {
			if errors.Is(err, core.ErrElementNotFound) {
				return nil
			}
			return err
		}
		visible, err = l.device.client.ElementDisplayed(id)
		return err
	})
	return visible, err
}

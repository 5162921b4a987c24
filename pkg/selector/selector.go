// Package selector builds WebDriver locator strategies for the ergonomic
// getBy* entry points. A Selector pairs the W3C "using" strategy with its
// value and keeps a quoted display form for step labels and errors.
package selector

import (
	"fmt"
	"strings"
)

// Locator strategies understood by Appium-compatible servers.
const (
	StrategyXPath         = "xpath"
	StrategyID            = "id"
	StrategyAccessibility = "accessibility id"
	StrategyUIAutomator   = "-android uiautomator"
	StrategyIOSPredicate  = "-ios predicate string"
)

// Selector is a resolved locator strategy plus value.
type Selector struct {
	Strategy string
	Value    string

	display string
}

// String returns the quoted display form, e.g. text="Login".
func (s Selector) String() string {
	return s.display
}

// IsZero reports whether the selector is unset.
func (s Selector) IsZero() bool {
	return s.Strategy == "" && s.Value == ""
}

// ByText matches an element by its visible text. Exact matching compares the
// whole string; otherwise a substring match is used.
func ByText(platform, text string, exact bool) Selector {
	escaped := escapeQuotes(text)

	var strategy, value string
	if platform == "ios" {
		strategy = StrategyIOSPredicate
		if exact {
			value = fmt.Sprintf(`label == "%s" OR name == "%s" OR value == "%s"`, escaped, escaped, escaped)
		} else {
			value = fmt.Sprintf(`label CONTAINS "%s" OR name CONTAINS "%s" OR value CONTAINS "%s"`, escaped, escaped, escaped)
		}
	} else {
		strategy = StrategyUIAutomator
		if exact {
			value = fmt.Sprintf(`new UiSelector().text("%s")`, escaped)
		} else {
			value = fmt.Sprintf(`new UiSelector().textContains("%s")`, escaped)
		}
	}

	return Selector{
		Strategy: strategy,
		Value:    value,
		display:  `text="` + text + `"`,
	}
}

// ByID matches an element by resource ID (Android) or accessibility ID (iOS).
func ByID(platform, id string) Selector {
	strategy := StrategyID
	if platform == "ios" {
		strategy = StrategyAccessibility
	}
	return Selector{
		Strategy: strategy,
		Value:    id,
		display:  `id="` + id + `"`,
	}
}

// ByXPath matches an element by XPath on either platform.
func ByXPath(path string) Selector {
	return Selector{
		Strategy: StrategyXPath,
		Value:    path,
		display:  `xpath="` + path + `"`,
	}
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

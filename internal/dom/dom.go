// Package dom is the engine's only contract with the page: resolve an
// ordered selector candidate list to an element, watch a region's text, and
// drive a control. The real page lives on the other side of a browser
// bridge; MemoryPage stands in for it in the simulator and in tests.
package dom

import "errors"

// ErrNotFound is returned when no selector candidate matches
var ErrNotFound = errors.New("no element matches selectors")

// Element is one matched page control
type Element interface {
	// SetValue writes a value in a framework-compatible way (native value
	// setter plus synthetic input event), so reactive UIs observe it
	SetValue(v string) error
	// Click activates the control
	Click() error
	// Text returns the element's visible text
	Text() string
}

// Page resolves selectors and observes mutations
type Page interface {
	// Find returns the first element matching the candidate list, in
	// order; ErrNotFound if none match
	Find(selectors []string) (Element, error)
	// WatchText invokes fn with the region's full text on every mutation
	// of any element matching the candidates. Returns a stop function.
	WatchText(selectors []string, fn func(text string)) (func(), error)
}

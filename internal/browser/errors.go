// internal/browser/errors.go
package browser

import "errors"

var (
	// ErrElementNotFound indicates that none of a locator's strategies
	// matched an element within the wait budget.
	ErrElementNotFound = errors.New("element not found")

	// ErrNotInteractable indicates the element was located but refused
	// the requested interaction (hidden, disabled, or covered).
	ErrNotInteractable = errors.New("element not interactable")

	// ErrSessionClosed indicates an operation was attempted after Close.
	ErrSessionClosed = errors.New("browser session closed")
)

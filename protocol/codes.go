// Package protocol holds the error catalog and the message builder shared by both peers.
//
// Codes are namespaced by magnitude:
//
//	1000s  protocol and validation errors (the request could not be dispatched)
//	5000s  execution errors (the handler ran and failed)
package protocol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nuclio/errors"
)

const (
	CodeMalformedMessage = 1001 // message could not be decoded
	CodeUnknownMethod    = 1002 // requested method does not exist
	CodeMissingMethod    = 1003 // message is missing the method name
	CodeInvalidArgument  = 1004 // argument has an invalid/unconvertible type
	CodeMissingArgument  = 1005 // required argument missing and has no default
	CodeRateLimited      = 1006 // request rejected by the rate limiter

	CodeExecutionTimeout = 5004 // handler did not finish before its deadline
	CodeExecutionFailed  = 5005 // handler raised a fault during execution
)

var builtinCodes = map[int]string{
	CodeMalformedMessage: "Invalid message. Could not parse message.",
	CodeUnknownMethod:    "Invalid remote function.",
	CodeMissingMethod:    "Invalid message. Missing required method name.",
	CodeInvalidArgument:  "Invalid argument. Could not convert argument to the declared type.",
	CodeMissingArgument:  "Invalid argument. Missing required argument.",
	CodeRateLimited:      "Rate limit exceeded.",
	CodeExecutionTimeout: "Execution timed out.",
	CodeExecutionFailed:  "Error executing.",
}

// Catalog maps numeric error codes to human-readable descriptions.
// The builtin codes are fixed; applications may add their own.
type Catalog struct {
	mu      sync.RWMutex
	entries map[int]string
}

// NewCatalog returns a catalog holding the builtin codes.
func NewCatalog() *Catalog {
	entries := make(map[int]string, len(builtinCodes))
	for code, text := range builtinCodes {
		entries[code] = text
	}
	return &Catalog{entries: entries}
}

// Register adds an application-defined code. Builtin codes cannot be redefined.
func (c *Catalog) Register(code int, text string) error {
	if code == 0 {
		return errors.New("Error code 0 is reserved")
	}
	if _, builtin := builtinCodes[code]; builtin {
		return errors.New(fmt.Sprintf("Error code %d is builtin and cannot be redefined", code))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = text
	return nil
}

// Text returns the description of code, or "" when the code is unknown.
func (c *Catalog) Text(code int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[code]
}

// Known reports whether code is in the catalog.
func (c *Catalog) Known(code int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[code]
	return ok
}

// Codes returns every registered code in ascending order.
func (c *Catalog) Codes() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes := make([]int, 0, len(c.entries))
	for code := range c.entries {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

var defaultCatalog = NewCatalog()

// DefaultCatalog returns the process-wide catalog used by the package-level builder.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// RegisterCode adds an application-defined code to the default catalog.
func RegisterCode(code int, text string) error {
	return defaultCatalog.Register(code, text)
}

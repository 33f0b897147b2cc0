// ABOUTME: Scoped resource release for device bring-up and teardown
// ABOUTME: Releases run last-acquired-first on every exit path
package output

import (
	"errors"
	"fmt"
	"log"
)

type release struct {
	name string
	fn   func() error
}

// releaseStack collects release actions as resources are acquired
type releaseStack struct {
	items []release
}

// push registers fn to run when the stack unwinds
func (s *releaseStack) push(name string, fn func() error) {
	s.items = append(s.items, release{name: name, fn: fn})
}

// unwind runs every registered release in reverse acquisition order.
// All releases run even if some fail; failures are joined.
func (s *releaseStack) unwind() error {
	var errs []error

	for i := len(s.items) - 1; i >= 0; i-- {
		r := s.items[i]
		if err := r.fn(); err != nil {
			log.Printf("Release %q failed: %v", r.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	s.items = nil

	return errors.Join(errs...)
}

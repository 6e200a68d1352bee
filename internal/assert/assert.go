// Package assert holds docprobe's error taxonomy and the hard assertion
// helpers scenarios use. A hard assertion returns an error the scenario
// returns immediately; soft checks live in package soft.
package assert

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ibeckermayer/docprobe/internal/wait"
)

// SkipError marks a scenario whose precondition is absent on the site.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skip returns a *SkipError.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// AssertionError is a failed hard check.
type AssertionError struct {
	Check    string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %v, got %v", e.Check, e.Expected, e.Actual)
}

// TimeoutError is a wait or budget that ran out.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s (budget %s)",
		e.Op, e.Elapsed.Round(time.Millisecond), e.Budget)
}

// InfraError is a failure of docprobe's own machinery, such as a browser
// context that would not start.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *InfraError) Unwrap() error { return e.Err }

// Infra wraps err as an *InfraError. A nil err stays nil.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Op: op, Err: err}
}

func Equal[T comparable](check string, expected, actual T) error {
	if expected != actual {
		return &AssertionError{Check: check, Expected: expected, Actual: actual}
	}
	return nil
}

// Status checks an HTTP status code.
func Status(expected, actual int) error {
	return Equal("status", expected, actual)
}

func True(check string, ok bool) error {
	if !ok {
		return &AssertionError{Check: check, Expected: true, Actual: false}
	}
	return nil
}

func NonEmpty(check, s string) error {
	if strings.TrimSpace(s) == "" {
		return &AssertionError{Check: check, Expected: "non-empty text", Actual: `""`}
	}
	return nil
}

// Matches checks s against a regular expression.
func Matches(check string, re *regexp.Regexp, s string) error {
	if !re.MatchString(s) {
		return &AssertionError{Check: check, Expected: "/" + re.String() + "/", Actual: fmt.Sprintf("%q", s)}
	}
	return nil
}

func Less[T int | int64 | float64 | time.Duration](check string, actual, limit T) error {
	if actual >= limit {
		return &AssertionError{Check: check, Expected: fmt.Sprintf("< %v", limit), Actual: actual}
	}
	return nil
}

// Within fails with a *TimeoutError when elapsed exceeds budget.
func Within(op string, elapsed, budget time.Duration) error {
	if elapsed > budget {
		return &TimeoutError{Op: op, Elapsed: elapsed, Budget: budget}
	}
	return nil
}

// Waited turns a timed-out wait into a *TimeoutError.
func Waited(op string, out wait.Outcome, budget time.Duration) error {
	if out.TimedOut() {
		return &TimeoutError{Op: op, Elapsed: out.Elapsed, Budget: budget}
	}
	return nil
}

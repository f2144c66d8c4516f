package model

import (
	"errors"
	"fmt"
)

// MinObservations is the smallest estimation window the regression accepts.
const MinObservations = 10

// InsufficientDataError reports an estimation window that holds fewer
// observations than the estimator needs. Retrying with the same inputs
// cannot succeed.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d observations, need at least %d", e.Have, e.Need)
}

// MalformedInputError reports input that cannot be interpreted: unparsable
// dates, missing fields, inverted ranges or invalid configuration.
type MalformedInputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := "malformed input"
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// NewMalformedInput builds a MalformedInputError for the named field.
func NewMalformedInput(field, reason string) *MalformedInputError {
	return &MalformedInputError{Field: field, Reason: reason}
}

// DegenerateCandidateError reports a grid candidate whose base curve cannot
// be rescaled. The calibrator drops such candidates and keeps searching.
type DegenerateCandidateError struct {
	Candidate Candidate
	BaseSum   float64
}

func (e *DegenerateCandidateError) Error() string {
	return fmt.Sprintf("degenerate candidate saturation=%g decay=%g scale_factor=%g: base curve sums to %g",
		e.Candidate.Saturation, e.Candidate.Decay, e.Candidate.ScaleFactor, e.BaseSum)
}

// IsInsufficientData returns true if err (or any error in its chain) is an
// InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

// IsMalformedInput returns true if err (or any error in its chain) is a
// MalformedInputError.
func IsMalformedInput(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// IsDegenerateCandidate returns true if err (or any error in its chain) is a
// DegenerateCandidateError.
func IsDegenerateCandidate(err error) bool {
	var target *DegenerateCandidateError
	return errors.As(err, &target)
}

package payroll

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("payroll changed concurrently, retry the operation")
	ErrInfrastructure = errors.New("payroll storage failure")

	ErrPayrollNotFound    = fmt.Errorf("payroll record %w", ErrNotFound)
	ErrAdjustmentNotFound = fmt.Errorf("payroll adjustment %w", ErrNotFound)
)

type Issue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries every problem found in an input before the store
// was touched.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Reason)
	}
	return "invalid payroll input: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

type validator struct {
	issues []Issue
}

func (v *validator) add(field, reason string) {
	v.issues = append(v.issues, Issue{Field: field, Reason: reason})
}

func (v *validator) err() error {
	if len(v.issues) == 0 {
		return nil
	}
	out := make([]Issue, len(v.issues))
	copy(out, v.issues)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return &ValidationError{Issues: out}
}

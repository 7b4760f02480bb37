package service

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// StepPlanner derives a bill's approval steps from the role order, the
// threshold policy and the bill amount. It holds no mutable state; callers
// pass the current configuration on every call.
type StepPlanner struct {
	terminalRole string
	defaultOrder []string
	approver     *regexp.Regexp
}

// NewStepPlanner creates a planner. approverPattern selects the roles that
// thresholds may skip.
func NewStepPlanner(terminalRole string, defaultOrder []string, approverPattern string) (*StepPlanner, error) {
	if terminalRole == "" {
		return nil, fmt.Errorf("terminal role is required")
	}
	re, err := regexp.Compile(approverPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid approver pattern %q: %w", approverPattern, err)
	}
	return &StepPlanner{
		terminalRole: terminalRole,
		defaultOrder: append([]string{}, defaultOrder...),
		approver:     re,
	}, nil
}

// TerminalRole returns the role that closes every plan.
func (p *StepPlanner) TerminalRole() string {
	return p.terminalRole
}

// Build keeps each role of order unless it is an approver role whose
// positive threshold exceeds amount, then appends the terminal role.
func (p *StepPlanner) Build(order []string, thresholds map[string]decimal.Decimal, amount decimal.Decimal) []string {
	if len(order) == 0 {
		order = p.defaultOrder
	}

	steps := make([]string, 0, len(order)+1)
	for _, role := range order {
		if p.skips(role, thresholds, amount) {
			continue
		}
		steps = append(steps, role)
	}
	return append(steps, p.terminalRole)
}

func (p *StepPlanner) skips(role string, thresholds map[string]decimal.Decimal, amount decimal.Decimal) bool {
	if !p.approver.MatchString(role) {
		return false
	}
	limit, ok := thresholds[role]
	if !ok || !limit.IsPositive() {
		return false
	}
	return amount.LessThan(limit)
}

// FirstApproverRole returns the first non-terminal role of steps.
func (p *StepPlanner) FirstApproverRole(steps []string) (string, bool) {
	for _, role := range steps {
		if role != p.terminalRole {
			return role, true
		}
	}
	return "", false
}

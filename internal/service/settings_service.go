package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
)

// SettingsService manages the role order registry and the threshold policy.
// Changes only affect plans built afterwards.
type SettingsService struct {
	config    ApprovalConfigStore
	planner   *StepPlanner
	adminRole string
	log       *logger.Logger
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(config ApprovalConfigStore, planner *StepPlanner, adminRole string, log *logger.Logger) *SettingsService {
	return &SettingsService{
		config:    config,
		planner:   planner,
		adminRole: adminRole,
		log:       log,
	}
}

// GetRoleOrder returns the approver roles in order.
func (s *SettingsService) GetRoleOrder(ctx context.Context) ([]string, error) {
	return s.config.GetRoleOrder(ctx)
}

// SetRoleOrder replaces the role order.
func (s *SettingsService) SetRoleOrder(ctx context.Context, caller Caller, order []string) ([]string, error) {
	if err := s.assertAdmin(caller); err != nil {
		return nil, err
	}

	cleaned := make([]string, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, role := range order {
		role = strings.TrimSpace(role)
		switch {
		case role == "":
			return nil, errors.InvalidInput("order", "role names must not be empty")
		case role == s.planner.TerminalRole():
			return nil, errors.InvalidInput("order", fmt.Sprintf("%s is always the last step and cannot be ordered", role))
		case seen[role]:
			return nil, errors.InvalidInput("order", fmt.Sprintf("duplicate role %s", role))
		}
		seen[role] = true
		cleaned = append(cleaned, role)
	}

	if err := s.config.SetRoleOrder(ctx, cleaned); err != nil {
		return nil, err
	}
	s.log.Info().Strs("order", cleaned).Str("caller_id", caller.ID).Msg("Approval order updated")
	return cleaned, nil
}

// GetThresholds returns the minimum amount per approver role.
func (s *SettingsService) GetThresholds(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.config.GetThresholds(ctx)
}

// SetThresholds replaces the threshold policy. Zero disables a threshold.
func (s *SettingsService) SetThresholds(ctx context.Context, caller Caller, thresholds map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	if err := s.assertAdmin(caller); err != nil {
		return nil, err
	}

	cleaned := make(map[string]decimal.Decimal, len(thresholds))
	for role, amount := range thresholds {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, errors.InvalidInput("thresholds", "role names must not be empty")
		}
		if amount.IsNegative() {
			return nil, errors.InvalidInput("thresholds", fmt.Sprintf("threshold for %s must not be negative", role))
		}
		cleaned[role] = amount
	}

	if err := s.config.SetThresholds(ctx, cleaned); err != nil {
		return nil, err
	}
	s.log.Info().Int("roles", len(cleaned)).Str("caller_id", caller.ID).Msg("Approval thresholds updated")
	return cleaned, nil
}

func (s *SettingsService) assertAdmin(caller Caller) error {
	if caller.Role != s.adminRole {
		return errors.Forbidden("only administrators can change approval settings")
	}
	return nil
}

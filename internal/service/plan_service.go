package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/repository"
)

type PlanService struct {
	currency string
	repo     PlanStore
}

type CreatePlanInput struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"priceMinorUnits"`
	Credits         int    `json:"credits"`
	IsActive        *bool  `json:"isActive"`
}

type UpdatePlanInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"priceMinorUnits"`
	Credits         *int    `json:"credits"`
	IsActive        *bool   `json:"isActive"`
}

func NewPlanService(currency string, repo PlanStore) *PlanService {
	if currency == "" {
		currency = "RUB"
	}
	return &PlanService{currency: currency, repo: repo}
}

// EnsureDefaultPlans seeds the S/M/L credit packs into an empty catalogue.
func (s *PlanService) EnsureDefaultPlans(ctx context.Context) error {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	defaults := []models.Plan{
		{Title: "S", Description: "50 credits", PriceMinorUnits: 49000, Credits: 50},
		{Title: "M", Description: "200 credits", PriceMinorUnits: 149000, Credits: 200},
		{Title: "L", Description: "500 credits", PriceMinorUnits: 299000, Credits: 500},
	}
	for i := range defaults {
		defaults[i].Currency = s.currency
		defaults[i].IsActive = true
		if _, err := s.repo.Create(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("create default plan %s: %w", defaults[i].Title, err)
		}
	}
	return nil
}

func (s *PlanService) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *PlanService) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, invalidf("title is required")
	}
	if input.Currency == "" {
		input.Currency = s.currency
	}
	if input.PriceMinorUnits <= 0 {
		return nil, invalidf("price must be positive")
	}
	if input.Credits <= 0 {
		return nil, invalidf("credits must be positive")
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	plan := models.Plan{
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		Currency:        strings.ToUpper(input.Currency),
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &plan)
}

func (s *PlanService) Update(ctx context.Context, id int64, input UpdatePlanInput) (*models.Plan, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) != "" {
		existing.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = strings.ToUpper(*input.Currency)
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

// Delete removes the plan, or only deactivates it when payments reference it.
func (s *PlanService) Delete(ctx context.Context, id int64) (archived bool, err error) {
	archived, err = s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrPlanNotFound) {
		return false, fmt.Errorf("%w: plan %d", ErrNotFound, id)
	}
	return archived, err
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: plan %d", ErrNotFound, id)
	}
	return plan, nil
}

package service

import (
	"context"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

type DashboardService struct {
	auth     *AuthService
	entities *EntityService
	subs     *SubmissionService
	routes   *RouteService
	forms    *FormService
}

func NewDashboardService(auth *AuthService, entities *EntityService, subs *SubmissionService, routes *RouteService, forms *FormService) *DashboardService {
	return &DashboardService{auth: auth, entities: entities, subs: subs, routes: routes, forms: forms}
}

type Dashboard struct {
	User        *models.UserResponse `json:"user"`
	Entities    []models.Entity      `json:"entities"`
	Submissions []SubmissionView     `json:"submissions"`
	Forms       []FormSummary        `json:"forms"`
	RouteState  *models.RouteState   `json:"routeState"`
	Stats       DashboardStats       `json:"stats"`
}

type DashboardStats struct {
	Drafts    int `json:"drafts"`
	Submitted int `json:"submitted"`
}

func (s *DashboardService) Get(ctx context.Context, uid string) (*Dashboard, error) {
	user, err := s.auth.Me(ctx, uid)
	if err != nil {
		return nil, err
	}
	ents, err := s.entities.ListForUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	subs, err := s.subs.ListForUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	h, err := s.routes.History(ctx, uid)
	if err != nil {
		return nil, err
	}

	var stats DashboardStats
	for _, sub := range subs {
		if sub.Status == models.StatusSubmitted {
			stats.Submitted++
		} else {
			stats.Drafts++
		}
	}
	return &Dashboard{
		User:        user,
		Entities:    ents,
		Submissions: subs,
		Forms:       s.forms.List(),
		RouteState:  h.Current(),
		Stats:       stats,
	}, nil
}

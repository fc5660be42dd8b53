package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/routestate"
)

// transitionAttempts bounds the retries of a transition that lost a revision race.
const transitionAttempts = 5

type RouteService struct {
	states       *repository.RouteStateRepo
	machine      routestate.Machine
	historyLimit int
	pub          *Publisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

func NewRouteService(states *repository.RouteStateRepo, machine routestate.Machine, historyLimit int, pub *Publisher, m *metrics.Metrics, logger *zap.Logger) *RouteService {
	return &RouteService{
		states:       states,
		machine:      machine,
		historyLimit: historyLimit,
		pub:          pub,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *RouteService) History(ctx context.Context, uid string) (*models.RouteHistory, error) {
	return s.states.Get(ctx, uid)
}

func (s *RouteService) CanTransitionTo(ctx context.Context, uid string, target routestate.State) (bool, error) {
	h, err := s.states.Get(ctx, uid)
	if err != nil {
		return false, err
	}
	return s.machine.CanTransition(h.Current(), target), nil
}

// TransitionTo appends target to the user's history when the table allows
// it. The history keeps the newest historyLimit states.
func (s *RouteService) TransitionTo(ctx context.Context, uid string, target routestate.State, metadata map[string]any) (*models.RouteHistory, error) {
	if !s.machine.Known(target) {
		return nil, invalid("unknown route state %q", target)
	}
	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		h, err := s.states.Get(ctx, uid)
		if err != nil {
			return nil, err
		}
		cur := h.Current()
		if !s.machine.CanTransition(cur, target) {
			s.metrics.Transition(string(target), false)
			return nil, fmt.Errorf("%w: %s -> %s", ErrTransitionDenied, cur.Name, target)
		}
		h.History = append(h.History, models.RouteState{
			Name:      string(target),
			Timestamp: timestamp(s.now),
			Metadata:  metadata,
		})
		if n := len(h.History); s.historyLimit > 0 && n > s.historyLimit {
			h.History = append([]models.RouteState(nil), h.History[n-s.historyLimit:]...)
		}

		err = s.states.Save(ctx, h)
		if errors.Is(err, repository.ErrRevisionConflict) {
			s.logger.Debug("route transition raced, retrying", zap.String("uid", uid), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			s.metrics.StoreError("save_route_state")
			s.logger.Error("save route state failed", zap.String("uid", uid), zap.Error(err))
			return nil, err
		}
		s.metrics.Transition(string(target), true)
		s.pub.publish(ctx, events.New(events.RouteChanged, uid, map[string]any{"state": string(target)}))
		return h, nil
	}
	return nil, fmt.Errorf("route transition for %s: %w", uid, repository.ErrRevisionConflict)
}

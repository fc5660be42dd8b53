package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

type EntityService struct {
	entities *repository.EntityRepo
	users    *repository.UserRepo
	pub      *Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewEntityService(entities *repository.EntityRepo, users *repository.UserRepo, pub *Publisher, logger *zap.Logger) *EntityService {
	return &EntityService{entities: entities, users: users, pub: pub, logger: logger, now: time.Now}
}

// Create stores a new entity owned by uid and links it to the user.
func (s *EntityService) Create(ctx context.Context, uid, name string, typ models.EntityType) (*models.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("entity name is required")
	}
	if typ != models.EntityInnovator && typ != models.EntityCatalyst {
		return nil, invalid("entity type %q", typ)
	}
	ts := timestamp(s.now)
	e := &models.Entity{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      typ,
		OwnerID:   uid,
		Members:   []string{uid},
		Profile:   map[string]any{},
		Products:  map[string]models.ProductAccess{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := s.entities.Create(ctx, e); err != nil {
		s.logger.Error("create entity failed", zap.String("uid", uid), zap.Error(err))
		return nil, err
	}
	if err := s.users.AddEntity(ctx, uid, e.ID, ts); err != nil {
		s.logger.Error("link entity to user failed", zap.String("uid", uid), zap.String("entityId", e.ID), zap.Error(err))
		return nil, err
	}
	s.pub.publish(ctx, events.New(events.EntityCreated, uid, map[string]any{"entityId": e.ID, "type": string(typ)}))
	return e, nil
}

// Get returns the entity when uid is one of its members.
func (s *EntityService) Get(ctx context.Context, uid, entityID string) (*models.Entity, error) {
	e, err := s.entities.FindByID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !e.HasMember(uid) {
		return nil, ErrForbidden
	}
	return e, nil
}

// Update merges profile fields and optionally renames the entity.
func (s *EntityService) Update(ctx context.Context, uid, entityID, name string, profile map[string]any) (*models.Entity, error) {
	if _, err := s.Get(ctx, uid, entityID); err != nil {
		return nil, err
	}
	if err := s.entities.UpdateProfile(ctx, entityID, profile, strings.TrimSpace(name), timestamp(s.now)); err != nil {
		if errors.Is(err, repository.ErrInvalidField) {
			return nil, invalid("%v", err)
		}
		return nil, err
	}
	return s.entities.FindByID(ctx, entityID)
}

// AddMember adds the user registered under email. Only the owner may add members.
func (s *EntityService) AddMember(ctx context.Context, uid, entityID, email string) (*models.Entity, error) {
	e, err := s.Get(ctx, uid, entityID)
	if err != nil {
		return nil, err
	}
	if e.OwnerID != uid {
		return nil, ErrForbidden
	}
	member, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if e.HasMember(member.ID) {
		return e, nil
	}
	ts := timestamp(s.now)
	members := append(slices.Clone(e.Members), member.ID)
	if err := s.entities.SetMembers(ctx, entityID, members, ts); err != nil {
		return nil, err
	}
	if err := s.users.AddEntity(ctx, member.ID, entityID, ts); err != nil {
		return nil, err
	}
	e.Members = members
	return e, nil
}

// ListForUser returns the entities uid belongs to.
func (s *EntityService) ListForUser(ctx context.Context, uid string) ([]models.Entity, error) {
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s.entities.FindByIDs(ctx, user.EntityIDs)
}

// JoinWaitlist records interest in a product the entity has no access to yet.
func (s *EntityService) JoinWaitlist(ctx context.Context, uid, entityID, productID string) (*models.Entity, error) {
	if !models.KnownProduct(productID) {
		return nil, invalid("unknown product %q", productID)
	}
	e, err := s.Get(ctx, uid, entityID)
	if err != nil {
		return nil, err
	}
	current := e.Products[productID]
	if current.Enabled || current.Waitlisted {
		return e, nil
	}
	access := models.ProductAccess{Waitlisted: true, RequestedAt: timestamp(s.now)}
	if err := s.entities.SetProductAccess(ctx, entityID, productID, access, access.RequestedAt); err != nil {
		return nil, err
	}
	if e.Products == nil {
		e.Products = map[string]models.ProductAccess{}
	}
	e.Products[productID] = access
	s.pub.publish(ctx, events.New(events.WaitlistJoined, uid, map[string]any{"entityId": entityID, "productId": productID}))
	return e, nil
}

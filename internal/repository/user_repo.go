package repository

import (
	"context"
	"fmt"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/docpath"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

const UsersCollection = "gf_users"

type UserRepo struct {
	src db.Source
}

func NewUserRepo(src db.Source) *UserRepo {
	return &UserRepo{src: src}
}

func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	c := r.src.Get()
	if err := c.CreateUniqueIndex(ctx, UsersCollection, "email"); err != nil {
		return err
	}
	if err := c.CreateUniqueIndex(ctx, UsersCollection, "uid"); err != nil {
		return err
	}
	return c.CreateUniqueIndex(ctx, UsersCollection, pathField)
}

// Create stores a new user at users/{uid}. u.ID must already be set.
func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	p, err := docpath.User(u.ID)
	if err != nil {
		return err
	}
	u.Path = p
	doc, err := toDoc(u)
	if err != nil {
		return err
	}
	if _, err := r.src.Get().Insert(ctx, UsersCollection, doc); err != nil {
		return fmt.Errorf("create user: %w", translate(err))
	}
	return nil
}

func (r *UserRepo) FindByID(ctx context.Context, uid string) (*models.User, error) {
	u, err := findOne[models.User](ctx, r.src.Get(), UsersCollection, map[string]any{"uid": uid})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", uid, err)
	}
	return u, nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := findOne[models.User](ctx, r.src.Get(), UsersCollection, map[string]any{"email": email})
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

// ProfileUpdate holds the editable profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	Phone       *string
	Bio         *string
	PhotoURL    *string
}

// UpdateProfile merge-writes the non-nil fields.
func (r *UserRepo) UpdateProfile(ctx context.Context, uid string, upd ProfileUpdate, updatedAt string) error {
	set := map[string]any{"updatedAt": updatedAt}
	if upd.DisplayName != nil {
		set["displayName"] = *upd.DisplayName
	}
	if upd.Phone != nil {
		set["phone"] = *upd.Phone
	}
	if upd.Bio != nil {
		set["bio"] = *upd.Bio
	}
	if upd.PhotoURL != nil {
		set["photoUrl"] = *upd.PhotoURL
	}
	return r.update(ctx, uid, set)
}

// AddEntity links an entity to the user. Linking twice is a no-op.
func (r *UserRepo) AddEntity(ctx context.Context, uid, entityID, updatedAt string) error {
	u, err := r.FindByID(ctx, uid)
	if err != nil {
		return err
	}
	for _, id := range u.EntityIDs {
		if id == entityID {
			return nil
		}
	}
	ids := append(u.EntityIDs, entityID)
	return r.update(ctx, uid, map[string]any{"entityIds": ids, "updatedAt": updatedAt})
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	return r.src.Get().Count(ctx, UsersCollection, map[string]any{})
}

func (r *UserRepo) update(ctx context.Context, uid string, set map[string]any) error {
	if err := updateExisting(ctx, r.src.Get(), UsersCollection, map[string]any{"uid": uid}, set); err != nil {
		return fmt.Errorf("update user %s: %w", uid, err)
	}
	return nil
}

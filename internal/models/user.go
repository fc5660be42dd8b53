package models

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account. ID is a generated uid, independent of the store's row id.
type User struct {
	ID           string   `json:"uid"`
	Path         string   `json:"_path,omitempty"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"passwordHash,omitempty"`
	DisplayName  string   `json:"displayName"`
	Phone        string   `json:"phone,omitempty"`
	Bio          string   `json:"bio,omitempty"`
	PhotoURL     string   `json:"photoUrl,omitempty"`
	Role         string   `json:"role"`
	EntityIDs    []string `json:"entityIds,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

type UserResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	Phone       string   `json:"phone,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
	Role        string   `json:"role"`
	EntityIDs   []string `json:"entityIds"`
	CreatedAt   string   `json:"createdAt"`
}

func (u *User) ToResponse() UserResponse {
	ids := u.EntityIDs
	if ids == nil {
		ids = []string{}
	}
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Phone:       u.Phone,
		Bio:         u.Bio,
		PhotoURL:    u.PhotoURL,
		Role:        u.Role,
		EntityIDs:   ids,
		CreatedAt:   u.CreatedAt,
	}
}

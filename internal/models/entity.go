package models

// EntityType distinguishes startups from funds.
type EntityType string

const (
	EntityInnovator EntityType = "innovator"
	EntityCatalyst  EntityType = "catalyst"
)

// Products an entity can be granted access to.
const (
	ProductPitchToGrant     = "pitch_to_grant"
	ProductGrantMatching    = "grant_matching"
	ProductInvestorMatching = "investor_matching"
)

// KnownProduct reports whether id names a product.
func KnownProduct(id string) bool {
	switch id {
	case ProductPitchToGrant, ProductGrantMatching, ProductInvestorMatching:
		return true
	}
	return false
}

// ProductAccess is the per-product flag set of an entity.
type ProductAccess struct {
	Enabled     bool   `json:"enabled"`
	Waitlisted  bool   `json:"waitlisted"`
	RequestedAt string `json:"requestedAt,omitempty"`
}

// Entity is an organization owned by one or more users. Never hard-deleted.
type Entity struct {
	ID           string                   `json:"entityId"`
	Path         string                   `json:"_path,omitempty"`
	Name         string                   `json:"name"`
	Type         EntityType               `json:"type"`
	OwnerID      string                   `json:"ownerId"`
	Members      []string                 `json:"members"`
	Profile      map[string]any           `json:"profile,omitempty"`
	Products     map[string]ProductAccess `json:"products,omitempty"`
	Applications []string                 `json:"applications,omitempty"`
	CreatedAt    string                   `json:"createdAt"`
	UpdatedAt    string                   `json:"updatedAt"`
}

// HasMember reports whether uid belongs to the entity.
func (e *Entity) HasMember(uid string) bool {
	for _, m := range e.Members {
		if m == uid {
			return true
		}
	}
	return false
}

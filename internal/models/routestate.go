package models

// RouteState is one recorded navigation state.
type RouteState struct {
	Name      string         `json:"name"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RouteHistory is the per-user list of route states, newest last.
// Revision increases on every write and guards concurrent transitions.
type RouteHistory struct {
	ID       string       `json:"_id,omitempty"`
	UserID   string       `json:"userId"`
	History  []RouteState `json:"history"`
	Revision int          `json:"revision"`
}

// Current returns the newest state, or nil before the first transition.
func (h *RouteHistory) Current() *RouteState {
	if h == nil || len(h.History) == 0 {
		return nil
	}
	return &h.History[len(h.History)-1]
}

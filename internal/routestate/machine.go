// Package routestate gates navigation between named application states.
package routestate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

// State names a gated screen.
type State string

const (
	Onboarding   State = "onboarding"
	Home         State = "home"
	Profile      State = "profile"
	PitchToGrant State = "pitch_to_grant"
	Form         State = "form"
	Waitlist     State = "waitlist"
)

// Any in a predecessor set allows every current state.
const Any State = "*"

// SafeRoute is where a denied navigation is sent.
const SafeRoute = "/app"

// Machine maps each target state to the states it may be entered from.
type Machine map[State][]State

// Default is the transition table of the application.
var Default = Machine{
	Onboarding:   {Any},
	Home:         {Onboarding, Home, Profile, PitchToGrant, Form, Waitlist},
	Profile:      {Home, Profile, PitchToGrant, Form, Waitlist},
	PitchToGrant: {Home, Profile, PitchToGrant, Form},
	Form:         {Home, PitchToGrant, Form, Profile},
	Waitlist:     {Home, Profile, Waitlist},
}

// Known reports whether s is a target of the table.
func (m Machine) Known(s State) bool {
	_, ok := m[s]
	return ok
}

// CanTransition reports whether target may follow current. A nil current
// (first visit) may go anywhere known.
func (m Machine) CanTransition(current *models.RouteState, target State) bool {
	allowed, ok := m[target]
	if !ok {
		return false
	}
	if current == nil {
		return true
	}
	for _, s := range allowed {
		if s == Any || s == State(current.Name) {
			return true
		}
	}
	return false
}

// Validate checks that every predecessor is a known state or the wildcard.
func (m Machine) Validate() error {
	var errs []error
	for _, target := range m.States() {
		for _, p := range m[target] {
			if p != Any && !m.Known(p) {
				errs = append(errs, fmt.Errorf("state %s: unknown predecessor %q", target, p))
			}
		}
	}
	return errors.Join(errs...)
}

// States lists the table's states in name order.
func (m Machine) States() []State {
	out := make([]State, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StateForRoute maps a client route onto its state and route argument
// (form id or product id). ok is false for ungated routes.
func StateForRoute(path string) (s State, arg string, ok bool) {
	path = strings.TrimSuffix(path, "/")
	switch path {
	case "/onboarding":
		return Onboarding, "", true
	case "/app":
		return Home, "", true
	case "/app/profile":
		return Profile, "", true
	case "/pitch-to-grant":
		return PitchToGrant, "", true
	}
	if id, found := strings.CutPrefix(path, "/form/"); found && id != "" && !strings.Contains(id, "/") {
		return Form, id, true
	}
	if id, found := strings.CutPrefix(path, "/waitlist/"); found && id != "" && !strings.Contains(id, "/") {
		return Waitlist, id, true
	}
	return "", "", false
}

// RouteForState is the client route of s. Unknown states, and form or
// waitlist without an argument, map to SafeRoute.
func RouteForState(s State, arg string) string {
	switch s {
	case Onboarding:
		return "/onboarding"
	case Home:
		return "/app"
	case Profile:
		return "/app/profile"
	case PitchToGrant:
		return "/pitch-to-grant"
	case Form:
		if arg != "" {
			return "/form/" + arg
		}
	case Waitlist:
		if arg != "" {
			return "/waitlist/" + arg
		}
	}
	return SafeRoute
}

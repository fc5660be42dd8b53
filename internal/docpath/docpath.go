// Package docpath builds the logical document paths and object keys used by the
// persistence layer. Every builder rejects empty segments and segments containing "/".
package docpath

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ErrInvalidSegment is returned for an empty segment or one that would change the path depth.
var ErrInvalidSegment = errors.New("docpath: invalid segment")

const (
	usersRoot        = "users"
	entitiesRoot     = "entities"
	applicationsRoot = "applications"
	grantOnboarding  = "grant_onboarding"
	sections         = "sections"
	entries          = "entries"
	profile          = "profile"
)

func join(segments ...string) (string, error) {
	for _, s := range segments {
		if strings.TrimSpace(s) == "" || strings.Contains(s, "/") || s == "." || s == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidSegment, s)
		}
	}
	return strings.Join(segments, "/"), nil
}

// User is users/{uid}.
func User(uid string) (string, error) {
	return join(usersRoot, uid)
}

// Entity is entities/{entityId}.
func Entity(entityID string) (string, error) {
	return join(entitiesRoot, entityID)
}

// Section is entities/{entityId}/grant_onboarding/{applicationId}/sections/{section}.
func Section(entityID, applicationID, section string) (string, error) {
	return join(entitiesRoot, entityID, grantOnboarding, applicationID, sections, section)
}

// Entry is Section(...)/entries/{index}.
func Entry(entityID, applicationID, section string, index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("%w: negative entry index %d", ErrInvalidSegment, index)
	}
	return join(entitiesRoot, entityID, grantOnboarding, applicationID, sections, section, entries, strconv.Itoa(index))
}

// ApplicationFile is applications/{userId}/{entityId}/{applicationId}/{section}/{fileName}.
func ApplicationFile(userID, entityID, applicationID, section, fileName string) (string, error) {
	return join(applicationsRoot, userID, entityID, applicationID, section, CleanFileName(fileName))
}

// ProfileFile is users/{uid}/profile/{fileName}.
func ProfileFile(uid, fileName string) (string, error) {
	return join(usersRoot, uid, profile, CleanFileName(fileName))
}

// CleanFileName strips directories a client may send as part of a multipart filename.
func CleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

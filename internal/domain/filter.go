package domain

import (
	"time"

	"github.com/google/uuid"
)

// StoredFilter is a saved advanced filter: a titled, shareable predicate over
// one entity type, persisted as an encoded token that decodes back to both an
// executable tree and the editable rows it was built from.
type StoredFilter struct {
	ID           uuid.UUID   `json:"id"`
	Title        string      `json:"title"`
	EntityType   string      `json:"entity_type"`
	EncodedQuery string      `json:"-"`
	CreatedBy    uuid.UUID   `json:"created_by"`
	Users        []uuid.UUID `json:"users"`
	Groups       []string    `json:"groups"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewStoredFilter creates a stored filter owned by its creator. The creator
// is always part of the share list, so a filter never becomes invisible to
// the user who saved it.
func NewStoredFilter(title, entityType, encodedQuery string, createdBy uuid.UUID) StoredFilter {
	now := time.Now()
	return StoredFilter{
		ID:           uuid.New(),
		Title:        title,
		EntityType:   entityType,
		EncodedQuery: encodedQuery,
		CreatedBy:    createdBy,
		Users:        []uuid.UUID{createdBy},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// WithTitle returns a copy with an updated title.
func (f StoredFilter) WithTitle(title string) StoredFilter {
	out := f.clone()
	out.Title = title
	out.UpdatedAt = time.Now()
	return out
}

// WithEncodedQuery returns a copy with a replacement query token.
func (f StoredFilter) WithEncodedQuery(encodedQuery string) StoredFilter {
	out := f.clone()
	out.EncodedQuery = encodedQuery
	out.UpdatedAt = time.Now()
	return out
}

// WithSharing returns a copy shared with the given users and groups. The
// creator is re-added if the new user list dropped them.
func (f StoredFilter) WithSharing(users []uuid.UUID, groups []string) StoredFilter {
	out := f.clone()
	out.Users = appendMissingUser(copyUsers(users), f.CreatedBy)
	out.Groups = copyGroups(groups)
	out.UpdatedAt = time.Now()
	return out
}

// IsVisibleTo reports whether a user sees this filter: direct user shares
// and group membership both grant access.
func (f StoredFilter) IsVisibleTo(userID uuid.UUID, groups []string) bool {
	for _, u := range f.Users {
		if u == userID {
			return true
		}
	}
	for _, g := range f.Groups {
		for _, mine := range groups {
			if g == mine {
				return true
			}
		}
	}
	return false
}

func (f StoredFilter) clone() StoredFilter {
	out := f
	out.Users = copyUsers(f.Users)
	out.Groups = copyGroups(f.Groups)
	return out
}

func copyUsers(users []uuid.UUID) []uuid.UUID {
	if users == nil {
		return nil
	}
	out := make([]uuid.UUID, len(users))
	copy(out, users)
	return out
}

func copyGroups(groups []string) []string {
	if groups == nil {
		return nil
	}
	out := make([]string, len(groups))
	copy(out, groups)
	return out
}

func appendMissingUser(users []uuid.UUID, id uuid.UUID) []uuid.UUID {
	if id == uuid.Nil {
		return users
	}
	for _, u := range users {
		if u == id {
			return users
		}
	}
	return append(users, id)
}

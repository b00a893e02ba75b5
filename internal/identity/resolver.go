package identity

import (
	"strings"
	"sync"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
)

// Resolve maps an author string to exactly one user. A user matches when
// author is a substring of any of its aliases, which tolerates display-name
// and email variants. No match is ErrUnknownAuthor; several matches is
// ErrAmbiguousAuthor, a configuration defect.
func Resolve(users []models.User, author string) (*models.User, error) {
	if author == "" {
		return nil, errors.UnknownAuthor(author)
	}

	var matched []*models.User
	for i := range users {
		if matchesAny(users[i].Aliases, author) {
			matched = append(matched, &users[i])
		}
	}

	switch len(matched) {
	case 0:
		return nil, errors.UnknownAuthor(author)
	case 1:
		return matched[0], nil
	default:
		names := make([]string, len(matched))
		for i, u := range matched {
			names[i] = u.Name
		}
		return nil, errors.AmbiguousAuthor(author, names)
	}
}

func matchesAny(aliases []string, author string) bool {
	for _, alias := range aliases {
		if strings.Contains(alias, author) {
			return true
		}
	}
	return false
}

type outcome struct {
	user *models.User
	err  error
}

// Resolver memoizes Resolve over a fixed user list for the lifetime of one
// run. Safe for concurrent use.
type Resolver struct {
	users []models.User

	mu    sync.Mutex
	cache map[string]outcome
}

// NewResolver creates a resolver over users. The slice is read, never modified.
func NewResolver(users []models.User) *Resolver {
	return &Resolver{
		users: users,
		cache: make(map[string]outcome),
	}
}

// Resolve is the memoized form of the package-level Resolve
func (r *Resolver) Resolve(author string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.cache[author]; ok {
		return o.user, o.err
	}

	user, err := Resolve(r.users, author)
	r.cache[author] = outcome{user: user, err: err}
	return user, err
}

// Users returns the configured users
func (r *Resolver) Users() []models.User {
	return r.users
}

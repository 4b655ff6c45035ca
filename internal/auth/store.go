// Package auth resolves connection tokens to usernames.
package auth

import (
	"errors"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// ErrAuthentication is returned for an empty, malformed, or unknown token.
var ErrAuthentication = errors.New("authentication failed")

// Store is a fixed token -> username mapping. It is never mutated after
// construction, so it is safe for concurrent use.
type Store struct {
	users map[string]string
}

// NewStore copies the provided mapping. Entries with an empty token or an
// empty username are dropped.
func NewStore(tokens map[string]string) *Store {
	users := lo.PickBy(tokens, func(token, name string) bool {
		return strings.TrimSpace(token) != "" && strings.TrimSpace(name) != ""
	})
	return &Store{users: users}
}

// Authenticate returns the username bound to token.
func (s *Store) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrAuthentication
	}
	name, ok := s.users[token]
	if !ok {
		return "", ErrAuthentication
	}
	return name, nil
}

// Users lists the known usernames in sorted order.
func (s *Store) Users() []string {
	names := lo.Uniq(lo.Values(s.users))
	sort.Strings(names)
	return names
}

// Tokens lists the known tokens in sorted order.
func (s *Store) Tokens() []string {
	tokens := lo.Keys(s.users)
	sort.Strings(tokens)
	return tokens
}

// Package auth проверяет bearer-токены администраторов.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type principal struct {
	token   string
	actorID string
	roles   map[string]struct{}
}

// StaticAuthenticator сверяет токен с таблицей из конфигурации.
type StaticAuthenticator struct {
	principals []principal
}

// ParseTokens разбирает строку вида "token:actor[:ROLE|ROLE],token2:actor2".
// Без ролей токену выдаётся ADMIN.
func ParseTokens(list string) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{}
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid admin token entry %q: want token:actor[:roles]", raw)
		}

		roles := map[string]struct{}{domain.RoleAdmin: {}}
		if len(parts) == 3 {
			roles = make(map[string]struct{})
			for _, role := range strings.Split(parts[2], "|") {
				if role = strings.ToUpper(strings.TrimSpace(role)); role != "" {
					roles[role] = struct{}{}
				}
			}
		}
		a.principals = append(a.principals, principal{token: parts[0], actorID: parts[1], roles: roles})
	}
	return a, nil
}

// RequireRole возвращает id актора, если токен известен и у него есть роль.
func (a *StaticAuthenticator) RequireRole(_ context.Context, credentials, role string) (string, error) {
	token := strings.TrimSpace(credentials)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return "", domain.ErrUnauthorized
	}

	for _, p := range a.principals {
		if subtle.ConstantTimeCompare([]byte(p.token), []byte(token)) != 1 {
			continue
		}
		if _, ok := p.roles[role]; !ok {
			return "", domain.ErrForbidden
		}
		return p.actorID, nil
	}
	return "", domain.ErrUnauthorized
}

var _ domain.AdminAuthenticator = (*StaticAuthenticator)(nil)

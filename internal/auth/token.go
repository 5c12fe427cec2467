package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the slice of token claims the service cares about.
type Claims struct {
	Subject  string
	Email    string
	Username string
	Roles    []string
}

// ExtractTokenFromRequest extracts a bearer token from the Authorization
// header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ExtractClaims parses the JWT payload without validating the signature.
// Signature validation happens in the OIDC middleware; this only reads the
// already-verified token.
func ExtractClaims(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{}
	claims.Subject, _ = mapClaims["sub"].(string)
	claims.Email, _ = mapClaims["email"].(string)
	claims.Username, _ = mapClaims["preferred_username"].(string)

	// Keycloak-style realm roles: realm_access.roles
	if realmAccess, ok := mapClaims["realm_access"].(map[string]any); ok {
		if rawRoles, ok := realmAccess["roles"].([]any); ok {
			for _, raw := range rawRoles {
				if role, ok := raw.(string); ok {
					claims.Roles = append(claims.Roles, role)
				}
			}
		}
	}

	return claims, nil
}

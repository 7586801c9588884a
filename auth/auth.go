package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Nihilantropy/ft-transcendence-sub004/domain"
)

var (
	ErrTokenMissing = errors.New("token missing")
	ErrTokenInvalid = errors.New("token verification failed")
)

// Authenticator verifies the bearer token presented during the WebSocket
// handshake. Verification failures are terminal for the attempt; the
// client must reconnect with a valid token.
type Authenticator struct {
	secret []byte
}

func New(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate extracts the token from the handshake request (the "token"
// query field, or an Authorization header with an optional "Bearer "
// prefix) and returns the identity encoded in its claims.
func (a *Authenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	raw := tokenFrom(r)
	if raw == "" {
		return domain.Identity{}, ErrTokenMissing
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, ErrTokenInvalid
	}

	id := identityFrom(claims)
	if id.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: no user id claim", ErrTokenInvalid)
	}
	return id, nil
}

func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}

func identityFrom(claims jwt.MapClaims) domain.Identity {
	var id domain.Identity
	switch v := claims["user_id"].(type) {
	case string:
		id.UserID = v
	case float64:
		// JSON numbers decode as float64; ids are integral.
		id.UserID = strconv.FormatInt(int64(v), 10)
	}
	if name, ok := claims["username"].(string); ok {
		id.Username = name
	}
	return id
}

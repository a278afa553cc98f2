package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"restaurant-review-app/sessions"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookie is the browser session cookie name.
	SessionCookie = "session_id"

	contextKeyIdentity = "identity"

	// SignInPath is where anonymous browser requests get redirected.
	SignInPath = "/auth/sign-in"
)

var (
	// ErrUnauthenticated means no caller identity could be resolved.
	ErrUnauthenticated = errors.New("sign-in required")
	// ErrUnauthorized means the caller is signed in but does not own the resource.
	ErrUnauthorized = errors.New("access denied")
)

// NormalizeID canonicalizes an account identifier for comparison. UUIDs are
// case-insensitive, so both sides are trimmed and lowercased.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Authorize is the ownership decision: allow iff the caller is present and its
// account ID equals the resource owner's ID. Usernames and any other mutable
// fields never participate in the decision.
func Authorize(caller sessions.Identity, ownerID string) error {
	if caller.AccountID == "" {
		return ErrUnauthenticated
	}
	if NormalizeID(caller.AccountID) != NormalizeID(ownerID) {
		return ErrUnauthorized
	}
	return nil
}

// CurrentUser returns the identity resolved by Authenticate, if any.
func CurrentUser(c *gin.Context) (sessions.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return sessions.Identity{}, false
	}
	id, ok := v.(sessions.Identity)
	if !ok || id.AccountID == "" {
		return sessions.Identity{}, false
	}
	return id, true
}

// Authenticate resolves the caller's identity — from a Bearer token if one is
// presented, otherwise from the signed session cookie — and stores it in the
// request context. It never rejects; the Require* middlewares do that.
func Authenticate(store sessions.Store, codec sessions.Codec, jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			if id, err := ParseToken(strings.TrimPrefix(header, "Bearer "), jwtSecret); err == nil {
				c.Set(contextKeyIdentity, id)
			}
			c.Next()
			return
		}

		value, err := c.Cookie(SessionCookie)
		if err != nil || value == "" {
			c.Next()
			return
		}
		sessionID, ok := codec.Decode(value)
		if !ok {
			c.Next()
			return
		}
		if id, found := store.Get(c.Request.Context(), sessionID); found {
			c.Set(contextKeyIdentity, id)
		}
		c.Next()
	}
}

// RequireSession protects browser routes: anonymous callers are redirected to
// the sign-in page.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.Redirect(http.StatusSeeOther, SignInPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAuth protects API routes: anonymous callers get 401.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		c.Next()
	}
}

// RequireOwner guards a browser subtree whose path carries the owner's account
// ID. It runs before the handler touches any resource, on every request.
func RequireOwner(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, _ := CurrentUser(c)
		switch err := Authorize(caller, c.Param(param)); {
		case errors.Is(err, ErrUnauthenticated):
			c.Redirect(http.StatusSeeOther, SignInPath)
			c.Abort()
		case errors.Is(err, ErrUnauthorized):
			c.HTML(http.StatusForbidden, "error.html", gin.H{
				"user":  caller,
				"error": "You can only manage your own restaurants.",
			})
			c.Abort()
		default:
			c.Next()
		}
	}
}

// RequireOwnerAPI is RequireOwner for the JSON surface.
func RequireOwnerAPI(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, _ := CurrentUser(c)
		switch err := Authorize(caller, c.Param(param)); {
		case errors.Is(err, ErrUnauthenticated):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		case errors.Is(err, ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
		default:
			c.Next()
		}
	}
}

type tokenClaims struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed API token carrying the same identity a
// session would.
func GenerateToken(id sessions.Identity, secret []byte) (string, error) {
	claims := tokenClaims{
		AccountID: id.AccountID,
		Username:  id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates an API token and returns the identity it carries.
func ParseToken(tokenStr string, secret []byte) (sessions.Identity, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid || claims.AccountID == "" {
		return sessions.Identity{}, ErrUnauthenticated
	}
	return sessions.Identity{AccountID: claims.AccountID, Username: claims.Username}, nil
}

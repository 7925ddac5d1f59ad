package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// SessionName is the cookie carrying the cart token and identity
const SessionName = "festival_session"

const (
	cartTokenKey = "cart_token"
	userIDKey    = "user_id"
	userEmailKey = "user_email"
	isAdminKey   = "is_admin"
	csrfTokenKey = "csrf_token"
)

// Identity is the caller as established by the login system. UserID 0 means
// an anonymous visitor.
type Identity struct {
	UserID  int
	Email   string
	IsAdmin bool
}

// Authenticated reports whether a user is logged in
func (i Identity) Authenticated() bool {
	return i.UserID > 0
}

// NewCookieStore creates the signed cookie store for SessionName
func NewCookieStore(secret string, secure bool, maxAge time.Duration) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// SessionMiddleware loads the signed session cookie
type SessionMiddleware struct {
	store sessions.Store
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(store sessions.Store) *SessionMiddleware {
	return &SessionMiddleware{
		store: store,
	}
}

// LoadSession puts the cart token, identity and CSRF token into the request
// context. A visitor without a cookie gets a fresh cart token.
func (m *SessionMiddleware) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := m.store.Get(r, SessionName)
		if err != nil {
			// Tampered or stale cookie; start over with a fresh session
			session, _ = m.store.New(r, SessionName)
		}

		changed := false
		token, _ := session.Values[cartTokenKey].(string)
		if token == "" {
			token = uuid.NewString()
			session.Values[cartTokenKey] = token
			changed = true
		}
		csrf, _ := session.Values[csrfTokenKey].(string)
		if csrf == "" {
			csrf = GenerateCSRFToken()
			session.Values[csrfTokenKey] = csrf
			changed = true
		}
		if changed {
			if err := session.Save(r, w); err != nil {
				writeJSONError(w, http.StatusInternalServerError, "Session error")
				return
			}
		}

		w.Header().Set("X-CSRF-Token", csrf)

		ctx := WithSession(r.Context(), token, identityFromValues(session.Values))
		ctx = context.WithValue(ctx, csrfContextKey, csrf)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetIdentity stores identity in the session cookie. The cart token is kept
// so a visitor's basket survives logging in.
func (m *SessionMiddleware) SetIdentity(w http.ResponseWriter, r *http.Request, identity Identity) error {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		session, _ = m.store.New(r, SessionName)
	}
	if identity.Authenticated() {
		session.Values[userIDKey] = identity.UserID
		session.Values[userEmailKey] = identity.Email
		session.Values[isAdminKey] = identity.IsAdmin
	} else {
		delete(session.Values, userIDKey)
		delete(session.Values, userEmailKey)
		delete(session.Values, isAdminKey)
	}
	return session.Save(r, w)
}

func identityFromValues(values map[interface{}]interface{}) Identity {
	var identity Identity

	// Session storage might convert types
	switch v := values[userIDKey].(type) {
	case int:
		identity.UserID = v
	case int64:
		identity.UserID = int(v)
	case float64:
		identity.UserID = int(v)
	case string:
		identity.UserID, _ = strconv.Atoi(v)
	}
	if identity.UserID <= 0 {
		return Identity{}
	}

	identity.Email, _ = values[userEmailKey].(string)
	identity.IsAdmin, _ = values[isAdminKey].(bool)
	return identity
}

type contextKey string

const (
	cartTokenContextKey contextKey = "cart_token"
	identityContextKey  contextKey = "identity"
	csrfContextKey      contextKey = "csrf_token"
)

// WithSession sets the cart token and identity in the context (also used by tests)
func WithSession(ctx context.Context, cartToken string, identity Identity) context.Context {
	ctx = context.WithValue(ctx, cartTokenContextKey, cartToken)
	return context.WithValue(ctx, identityContextKey, identity)
}

// CartTokenFromContext returns the cart token set by LoadSession
func CartTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(cartTokenContextKey).(string)
	return token
}

// IdentityFromContext returns the caller identity, anonymous if none was loaded
func IdentityFromContext(ctx context.Context) Identity {
	identity, _ := ctx.Value(identityContextKey).(Identity)
	return identity
}

// Package session tells signed-in users apart from anonymous shoppers.
package session

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// HeaderUserID is set by the upstream auth proxy for signed-in requests.
const HeaderUserID = "X-User-ID"

const sessionIDKey = "sid"

// Identity is who a request acts for. UserID is empty for anonymous shoppers;
// SessionID is kept for signed-in users too so a guest cart can be attached.
type Identity struct {
	UserID    string
	SessionID string
}

func (i Identity) IsAnonymous() bool { return i.UserID == "" }

type Resolver struct {
	store sessions.Store
	name  string
}

// NewResolver creates a resolver backed by a signed cookie
func NewResolver(secret, cookieName string, maxAge int, secure bool) *Resolver {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Resolver{store: store, name: cookieName}
}

// Resolve reads the caller's identity, issuing an anonymous session cookie
// when the request carries none.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) (Identity, error) {
	id := Identity{UserID: req.Header.Get(HeaderUserID)}

	sess, err := r.store.Get(req, r.name)
	if err != nil && sess == nil {
		return id, fmt.Errorf("failed to read session: %w", err)
	}

	if sid, ok := sess.Values[sessionIDKey].(string); ok && sid != "" {
		id.SessionID = sid
		return id, nil
	}

	if !id.IsAnonymous() {
		return id, nil
	}

	id.SessionID = uuid.NewString()
	sess.Values[sessionIDKey] = id.SessionID
	if err := sess.Save(req, w); err != nil {
		return id, fmt.Errorf("failed to save session: %w", err)
	}
	return id, nil
}

// Forget drops the anonymous session id once its cart has been attached to a user.
func (r *Resolver) Forget(w http.ResponseWriter, req *http.Request) error {
	sess, err := r.store.Get(req, r.name)
	if err != nil && sess == nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	delete(sess.Values, sessionIDKey)
	return sess.Save(req, w)
}

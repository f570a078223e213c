package auth

import (
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "flowerpod_session"
	keyUserID   = "uid"
	keyUsername = "username"
	keyRole     = "role"
)

// Sessions keeps the principal of browser clients in a signed cookie.
type Sessions struct {
	store *sessions.CookieStore
}

func NewSessions(secret string, maxAge int, secure bool) *Sessions {
	store := sessions.NewCookieStore([]byte(secret))
	store.MaxAge(maxAge)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	store.Options.SameSite = http.SameSiteLaxMode
	return &Sessions{store: store}
}

func (s *Sessions) Save(w http.ResponseWriter, r *http.Request, p Principal) error {
	sess, _ := s.store.Get(r, sessionName)
	sess.Values[keyUserID] = p.UserID
	sess.Values[keyUsername] = p.Username
	sess.Values[keyRole] = p.Role
	return sess.Save(r, w)
}

func (s *Sessions) Load(r *http.Request) (Principal, bool) {
	sess, err := s.store.Get(r, sessionName)
	if err != nil || sess.IsNew {
		return Principal{}, false
	}
	id, _ := sess.Values[keyUserID].(uint)
	name, _ := sess.Values[keyUsername].(string)
	role, _ := sess.Values[keyRole].(string)
	if id == 0 || name == "" {
		return Principal{}, false
	}
	return Principal{UserID: id, Username: name, Role: role}, true
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, sessionName)
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

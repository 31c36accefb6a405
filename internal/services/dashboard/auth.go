package dashboard

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

// BasicAuth guards next with one shared password. An empty username accepts
// any user name.
func BasicAuth(realm, username, password string, next http.Handler) http.Handler {
	challenge := fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, realm)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !credentialsMatch(username, password, user, pass) {
			w.Header().Set("WWW-Authenticate", challenge)
			http.Error(w, "Unauthorized Access", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func credentialsMatch(wantUser, wantPass, user, pass string) bool {
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) == 1
	if wantUser == "" {
		return passOK
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1
	return userOK && passOK
}

package api

import (
	"crypto/subtle"
	"net/http"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// authenticate checks basic-auth credentials and returns the caller's
// role, or "" if they are invalid. With auth disabled every caller is admin.
func (s *Server) authenticate(r *http.Request) Role {
	a := s.opts.Auth
	if !a.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if secureCompare(user, a.AdminUser) && secureCompare(pass, a.AdminPass) {
		return RoleAdmin
	}
	if a.OperatorUser != "" && a.OperatorPass != "" &&
		secureCompare(user, a.OperatorUser) && secureCompare(pass, a.OperatorPass) {
		return RoleOperator
	}
	return ""
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireRole is middleware admitting callers holding one of roles.
func (s *Server) requireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := s.authenticate(r)
			if role == "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="Sutera World Loader"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

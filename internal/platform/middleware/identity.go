package middleware

import (
	"net/http"

	"github.com/xtmate/xtmate/internal/auth"
)

// AnnotateIdentity copies the authenticated caller onto the access log entry
// started by Logging. It must run after auth.Middleware.
func AnnotateIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			if identity := auth.GetIdentity(r.Context()); identity != nil {
				info.userID = identity.UserID
				info.organizationID = identity.OrganizationID
			}
		}
		next.ServeHTTP(w, r)
	})
}

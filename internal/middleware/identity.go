// Package middleware carries the HTTP cross-cutting concerns: caller
// identity extraction and request logging.
package middleware

import (
	"context"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

// iapAssertionHeader carries the proxy-verified identity JWT. The proxy in
// front of the service has already verified the signature; authenticating
// the caller is out of scope here, the payload is only decoded.
const iapAssertionHeader = "x-goog-iap-jwt-assertion"

// debugPrincipalHeader substitutes the caller identity in dev deployments.
const debugPrincipalHeader = "X-Debug-Principal"

type contextKey int

const userKey contextKey = iota

// UserFromContext returns the authenticated caller.
func UserFromContext(ctx context.Context) (model.UserID, bool) {
	u, ok := ctx.Value(userKey).(model.UserID)
	return u, ok
}

// Identity resolves the caller from the IAP assertion (or the debug header
// when devMode is on) and stores it in the request context. Requests without
// a resolvable identity are rejected with 401.
func Identity(devMode bool, onError func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolveUser(r, devMode)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

func resolveUser(r *http.Request, devMode bool) (model.UserID, error) {
	if devMode {
		if email := r.Header.Get(debugPrincipalHeader); email != "" {
			return model.UserID{Email: email}, nil
		}
	}
	assertion := r.Header.Get(iapAssertionHeader)
	if assertion == "" {
		return model.UserID{}, apierr.New(apierr.NotAuthenticated, "no caller identity on request")
	}

	tok, err := jwt.ParseInsecure([]byte(assertion))
	if err != nil {
		return model.UserID{}, apierr.Wrap(apierr.NotAuthenticated, err, "caller assertion unreadable")
	}
	email, _ := tok.Get("email")
	emailStr, _ := email.(string)
	if emailStr == "" {
		return model.UserID{}, apierr.New(apierr.NotAuthenticated, "caller assertion carries no email")
	}
	return model.UserID{ID: tok.Subject(), Email: emailStr}, nil
}

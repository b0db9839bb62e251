package middleware

import (
	"net/http"
	"strings"

	"adora-payments/internal/logger"
	"adora-payments/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const serviceAuthHeader = "X-Service-Auth"

type Auth struct {
	secret      []byte
	internalKey string
}

func NewAuth(secret, internalKey string) *Auth {
	return &Auth{secret: []byte(secret), internalKey: internalKey}
}

// Middleware resolves the caller. Anonymous requests pass through; a token
// that is present but invalid is rejected.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if a.internalKey != "" && r.Header.Get(serviceAuthHeader) == a.internalKey {
			ctx = utils.WithInternalRequest(ctx)
			ctx = utils.SetUserContext(ctx, 0, "", utils.RoleInternal)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenStr := ExtractAccessToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			logger.FromCtx(ctx).Debug("rejected access token", zap.Error(err))
			utils.WriteJSONError(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			utils.WriteJSONError(w, "invalid token claims", http.StatusUnauthorized)
			return
		}

		uid, ok := claims["user_id"].(float64)
		if !ok {
			utils.WriteJSONError(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		phone, _ := claims["phone"].(string)
		role, _ := claims["role"].(string)

		ctx = utils.SetUserContext(ctx, int64(uid), phone, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests without an authenticated profile.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := utils.GetUserIDFromContext(r.Context()); !ok || id <= 0 {
			utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireInternal guards back-office endpoints.
func RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !utils.IsInternalRequest(r.Context()) {
			utils.WriteJSONError(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractAccessToken reads the access_token cookie, falling back to a Bearer header.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

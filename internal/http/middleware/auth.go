package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gong8/cramkit-sub000/internal/platform/ctxutil"
	"github.com/gong8/cramkit-sub000/internal/platform/envutil"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

/*
AuthMiddleware validates HS256 bearer tokens and stores the token
subject on the request context for ownership checks downstream.

When JWT_SECRET is unset the middleware is disabled and every request
passes through anonymously. That is the intended single-user dev mode;
handlers treat an empty user id as "skip ownership checks".
*/
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

type jwtClaims struct {
	jwt.RegisteredClaims
}

func NewAuthMiddleware(log *logger.Logger) *AuthMiddleware {
	mwLog := log.With("middleware", "AuthMiddleware")
	secret := envutil.String("JWT_SECRET", "")
	if secret == "" {
		mwLog.Warn("JWT_SECRET not set; auth middleware disabled")
		return &AuthMiddleware{log: mwLog}
	}
	return &AuthMiddleware{log: mwLog, secret: []byte(secret)}
}

func (am *AuthMiddleware) Enabled() bool {
	return am != nil && len(am.secret) > 0
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		userID, err := am.parseSubject(tokenString)
		if err != nil {
			am.log.Debug("Rejected bearer token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		ctx := ctxutil.WithUserID(c.Request.Context(), userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (am *AuthMiddleware) parseSubject(tokenString string) (uuid.UUID, error) {
	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return uuid.Nil, fmt.Errorf("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject in token: %w", err)
	}
	return userID, nil
}

// extractToken also accepts ?token= because EventSource cannot set
// request headers.
func extractToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

package middleware

import (
	"log"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"

	appauth "github.com/skylens-geo/photogrammetry-backend/internal/auth"
)

// OptionalFirebaseAuth validates a Firebase ID token when one is
// presented and stores the caller's uid as "firebase_uid". Requests
// without a token proceed anonymously; an unverifiable token is
// treated the same way rather than rejected, since every endpoint here
// works without identity. A nil client disables verification entirely.
func OptionalFirebaseAuth(authClient *auth.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" || authClient == nil {
			c.Next()
			return
		}

		decodedToken, err := authClient.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			log.Printf("auth: token rejected path=%s err=%v", c.Request.URL.Path, err)
			c.Next()
			return
		}

		c.Set(appauth.CtxFirebaseUID, decodedToken.UID)
		if email, ok := decodedToken.Claims["email"].(string); ok {
			c.Set("email", email)
		}

		c.Next()
	}
}

// extractToken extracts the Bearer token from the Authorization header
func extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader("Authorization")
	if len(bearerToken) > 7 && strings.HasPrefix(bearerToken, "Bearer ") {
		return bearerToken[7:]
	}
	return ""
}

package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxFirebaseUID = "firebase_uid"
)

// UserFirebaseUID extracts the Firebase UID from the Gin context.
// Set by OptionalFirebaseAuth; empty for anonymous requests.
func UserFirebaseUID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxFirebaseUID))
}

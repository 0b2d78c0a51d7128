package handlers

import "github.com/gin-gonic/gin"

// getUserID returns the authenticated user ID set by the auth middleware.
func getUserID(c *gin.Context) string {
	return c.GetString("userID")
}

// getSessionToken returns the raw bearer token set by the auth middleware.
// Gateway calls forward it so the provider enforces its own authorization.
func getSessionToken(c *gin.Context) string {
	return c.GetString("sessionToken")
}

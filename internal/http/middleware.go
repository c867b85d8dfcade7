package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/pairing"
)

// loopbackOnly rejects requests that did not come from, or were not
// addressed to, the local machine.
func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !loopbackAddr(c.Request.RemoteAddr) {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{Error: HTTPErrorForbiddenText})
			return
		}
		if !localHostHeader(c.Request.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{Error: HTTPErrorForbiddenHost})
			return
		}
		c.Next()
	}
}

// pairedOnly requires the extension pairing token when one is configured.
func pairedOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if !pairing.Matches(token, c.GetHeader(extensionTokenHeader)) {
			log.Warn("rejected unpaired request", "path", c.Request.URL.Path, "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Error: HTTPErrorUnauthorized})
			return
		}
		c.Next()
	}
}

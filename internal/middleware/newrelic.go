package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// TrackingAttributes tags the New Relic transaction started by nrgin with
// the booking and driver ids of the route. Without a transaction it is a no-op.
func TrackingAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		if txn := nrgin.Transaction(c); txn != nil {
			if id := c.Param("bookingId"); id != "" {
				txn.AddAttribute("booking_id", id)
			}
			if id := c.Param("id"); id != "" {
				txn.AddAttribute("driver_id", id)
			}
		}
		c.Next()
	}
}

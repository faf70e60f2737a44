package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/disqualifier/mailtime/interfaces"
)

// StreamEvents pushes engine events to the client as server-sent events.
// The subscription ends when the client disconnects.
func StreamEvents(eventsService interfaces.EventsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, cancel := eventsService.Subscribe(32)
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case event, open := <-events:
				if !open {
					return false
				}
				c.SSEvent("message", event)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

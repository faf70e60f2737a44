package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/tracing"
)

const defaultMessageLimit = 50

// ListMessages returns one folder's cached messages, newest first
func ListMessages(mailboxService interfaces.MailboxService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListMessages")
		defer span.Finish()
		tracing.TagComponentRest(span)

		filter := interfaces.QueryFilter{
			Folder:      c.DefaultQuery("folder", "INBOX"),
			UnseenOnly:  c.Query("unseen") == "true",
			FlaggedOnly: c.Query("flagged") == "true",
			Limit:       defaultMessageLimit,
		}
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			filter.Limit = limit
		}

		id := c.Param("id")
		messages, err := mailboxService.ListMessages(ctx, id, filter)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"accountId": id,
			"folder":    filter.Folder,
			"messages":  messages,
			"count":     len(messages),
		})
	}
}

// ListFolders returns the folders cached for an account
func ListFolders(mailboxService interfaces.MailboxService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListFolders")
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		folders, err := mailboxService.ListFolders(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"accountId": id, "folders": folders})
	}
}

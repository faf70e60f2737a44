package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/models"
	"github.com/disqualifier/mailtime/internal/tracing"
)

// SearchAllAccounts matches a substring over every visible account's cache
func SearchAllAccounts(mailboxService interfaces.MailboxService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SearchAllAccounts")
		defer span.Finish()
		tracing.TagComponentRest(span)

		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
			return
		}

		hits, err := mailboxService.SearchAcrossAccounts(ctx, query)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"query": query, "results": hits, "count": len(hits)})
	}
}

// SearchAccount searches one account. With live=true it asks the server
// first and falls back to the cache; otherwise it serves the cache directly.
func SearchAccount(syncService interfaces.SyncService, mailboxService interfaces.MailboxService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SearchAccount")
		defer span.Finish()
		tracing.TagComponentRest(span)

		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
			return
		}

		id := c.Param("id")
		folder := c.DefaultQuery("folder", "INBOX")
		live := c.Query("live") == "true"

		filter := interfaces.QueryFilter{Folder: folder, Text: query}
		tracing.LogObjectAsJson(span, "filter", filter)

		var messages []*models.Message
		var err error
		if live {
			messages, err = syncService.ServerSearch(ctx, id, folder, query)
		} else {
			messages, err = mailboxService.ListMessages(ctx, id, filter)
		}
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"accountId": id,
			"folder":    folder,
			"query":     query,
			"live":      live,
			"messages":  messages,
			"count":     len(messages),
		})
	}
}

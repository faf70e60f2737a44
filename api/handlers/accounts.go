package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/tracing"
)

// ListAccounts returns the registered accounts. Passwords are never part of
// the payload; the model excludes them from serialization.
func ListAccounts(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts := syncService.Accounts()
		c.JSON(http.StatusOK, gin.H{"accounts": accounts, "count": len(accounts)})
	}
}

// AddAccount registers a new account and starts syncing it
func AddAccount(syncService interfaces.SyncService, defaults *config.DefaultIMAPConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AddAccount")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var entry config.AccountEntry
		if err := c.ShouldBindJSON(&entry); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := entry.ToAccount(defaults)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := syncService.AddAccount(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// RemoveAccount detaches an account; ?purgeCache=true also deletes its cache file
func RemoveAccount(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RemoveAccount")
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		purge := c.Query("purgeCache") == "true"

		if err := syncService.RemoveAccount(ctx, id, purge); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": id, "cachePurged": purge})
	}
}

// AccountStatus returns one account's sync state and folder stats
func AccountStatus(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		status, exists := syncService.Status()[id]
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		c.JSON(http.StatusOK, status)
	}
}

// RefreshAccount wakes one account's worker ahead of its poll timer
func RefreshAccount(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RefreshAccount")
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		if err := syncService.RefreshNow(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested", "id": id})
	}
}

// RefreshAll wakes every visible account's worker
func RefreshAll(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RefreshAll")
		defer span.Finish()
		tracing.TagComponentRest(span)

		syncService.RefreshAll(ctx)
		c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested"})
	}
}

// ClearAllCaches deletes every account's cache file; accounts refetch on
// their next cycle
func ClearAllCaches(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ClearAllCaches")
		defer span.Finish()
		tracing.TagComponentRest(span)

		purged, err := syncService.PurgeAllCaches(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "caches cleared", "purged": purged})
	}
}

type hiddenRequest struct {
	Hidden bool `json:"hidden"`
}

// SetAccountHidden toggles polling for an account without touching its cache
func SetAccountHidden(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SetAccountHidden")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req hiddenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := c.Param("id")
		if err := syncService.SetHidden(ctx, id, req.Hidden); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "account updated", "id": id, "hidden": req.Hidden})
	}
}

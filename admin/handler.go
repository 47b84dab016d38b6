// Package admin exposes the ops surface: cache statistics, forced eviction
// of one user's projection, and forced reconciliation against the store.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexmarket/realtime/cache"
	"github.com/nexmarket/realtime/presence"
	"github.com/nexmarket/realtime/tools/errs"
)

type Handler struct {
	users *cache.Users
	pres  *presence.Tracker
}

func NewHandler(users *cache.Users, pres *presence.Tracker) *Handler {
	return &Handler{users: users, pres: pres}
}

func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/cache/stats", h.stats)
	g.DELETE("/cache/users/:id", h.evict)
	g.POST("/cache/users/:id/reconcile", h.reconcile)
	g.GET("/presence", h.online)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.users.Stats(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	if online, err := h.pres.ListOnline(c.Request.Context()); err == nil {
		st.Online = len(online)
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) evict(c *gin.Context) {
	if err := h.users.InvalidateUser(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": c.Param("id")})
}

func (h *Handler) reconcile(c *gin.Context) {
	res, err := h.users.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) online(c *gin.Context) {
	users, err := h.pres.ListOnline(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": users, "count": len(users)})
}

func writeErr(c *gin.Context, err error) {
	ce := errs.CodeOf(err)
	switch {
	case ce == nil:
		c.JSON(http.StatusInternalServerError, gin.H{"msg": err.Error()})
	case errs.ErrNotFound.Is(err):
		c.JSON(http.StatusNotFound, ce)
	case errs.ErrStoreUnavailable.Is(err) || errs.ErrCacheUnavailable.Is(err):
		c.JSON(http.StatusServiceUnavailable, ce)
	default:
		c.JSON(http.StatusBadRequest, ce)
	}
}

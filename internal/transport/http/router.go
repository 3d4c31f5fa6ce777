package webhttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dipbot/internal/analytics"
	"dipbot/internal/logger"
	"dipbot/internal/rules"
	"dipbot/internal/store/eventlog"
	"dipbot/internal/store/gormstore"
	"dipbot/internal/tick"
	"dipbot/internal/types"
)

// Router serves the /api group. All endpoints are read-only; rule edits happen
// through the watched rules file, never through HTTP.
type Router struct {
	manager  *tick.Manager
	registry *rules.Registry
	states   *gormstore.Store
	events   *eventlog.Store
}

func NewRouter(manager *tick.Manager, registry *rules.Registry, states *gormstore.Store, events *eventlog.Store) *Router {
	return &Router{manager: manager, registry: registry, states: states, events: events}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/rules", r.handleRules)
	if r.states != nil {
		group.GET("/positions", r.handlePositions)
		group.GET("/performance", r.handlePerformance)
	}
	if r.events != nil {
		group.GET("/events", r.handleEvents)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.registry.Current()
	c.JSON(http.StatusOK, gin.H{
		"tick":             r.manager.Metrics(),
		"interval":         r.manager.Interval().String(),
		"rules_version":    snap.Version,
		"rules_loaded_at":  snap.LoadedAt,
		"rules_user_count": len(snap.Users),
	})
}

// ruleView is a Rule with its owner attached and credentials omitted.
type ruleView struct {
	UserID string `json:"user_id"`
	types.Rule
}

func (r *Router) handleRules(c *gin.Context) {
	snap := r.registry.Current()
	userFilter := strings.TrimSpace(c.Query("user_id"))
	out := make([]ruleView, 0, 16)
	for _, user := range snap.Users {
		if userFilter != "" && user.UserID != userFilter {
			continue
		}
		for _, rule := range user.Rules {
			out = append(out, ruleView{UserID: user.UserID, Rule: rule})
		}
	}
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "rules": out})
}

func (r *Router) handlePositions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.states.List(ctx)
	if err != nil {
		logger.Errorf("[api] positions list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	userFilter := strings.TrimSpace(c.Query("user_id"))
	activeOnly := c.Query("active") == "1"
	out := records[:0:0]
	for _, rec := range records {
		if userFilter != "" && rec.UserID != userFilter {
			continue
		}
		if activeOnly && (rec.State == nil || !rec.State.Active) {
			continue
		}
		out = append(out, rec)
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (r *Router) handlePerformance(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.states.List(ctx)
	if err != nil {
		logger.Errorf("[api] performance query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics := analytics.SummarizeClosedPositions(records, strings.TrimSpace(c.Query("user_id")))
	c.JSON(http.StatusOK, metrics)
}

func (r *Router) handleEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	events, err := r.events.List(ctx, eventlog.Query{
		UserID: strings.TrimSpace(c.Query("user_id")),
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Limit:  limit,
	})
	if err != nil {
		logger.Errorf("[api] events list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

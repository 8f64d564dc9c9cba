package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/cache"
	"github.com/JustJay7/court-lead-harvester/internal/courts"
	"github.com/JustJay7/court-lead-harvester/internal/harvest"
	"github.com/JustJay7/court-lead-harvester/internal/store"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	cases     *store.Store
	states    *store.StateStore
	cache     cache.Cache
	registry  *courts.Registry
	retriever harvest.Retriever
	logger    *logger.Logger
}

func NewHandlers(cases *store.Store, states *store.StateStore, c cache.Cache, registry *courts.Registry, retriever harvest.Retriever, log *logger.Logger) *Handlers {
	return &Handlers{
		cases:     cases,
		states:    states,
		cache:     c,
		registry:  registry,
		retriever: retriever,
		logger:    log,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	dbHealthy := false
	if sqlDB, err := h.cases.DB().DB(); err == nil {
		dbHealthy = sqlDB.PingContext(c.Request.Context()) == nil
	}

	status := http.StatusOK
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   map[bool]string{true: "healthy", false: "degraded"}[dbHealthy],
		"database": dbHealthy,
		"time":     time.Now().Unix(),
	})
}

// GetCase returns one case with its documents, served from the cache when possible
func (h *Handlers) GetCase(c *gin.Context) {
	found, err := h.cases.GetCase(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load case", "case_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, "failed to load case")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": found})
}

// ListCases pages through cases, newest filing first
func (h *Handlers) ListCases(c *gin.Context) {
	page, limit := pagination(c)
	filter := store.CaseFilter{
		CourtCode: c.Query("court"),
		Tag:       c.Query("tag"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	var err error
	if filter.From, err = queryDate(c, "from"); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = queryDate(c, "to"); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	cases, total, err := h.cases.ListCases(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list cases", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list cases")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       cases,
		"pagination": gin.H{"page": page, "limit": limit, "total": total},
	})
}

// ListLeads pages through leads with optional status, court, tag and export filters
func (h *Handlers) ListLeads(c *gin.Context) {
	page, limit := pagination(c)
	filter := store.LeadFilter{
		Status:    c.Query("status"),
		CourtCode: c.Query("court"),
		Tag:       c.Query("tag"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	if raw := c.Query("exported"); raw != "" {
		exported, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "exported must be true or false")
			return
		}
		filter.Exported = &exported
	}

	leads, total, err := h.cases.ListLeads(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list leads", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list leads")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       leads,
		"pagination": gin.H{"page": page, "limit": limit, "total": total},
	})
}

// UpdateLeadStatus moves a lead to a new workflow status
func (h *Handlers) UpdateLeadStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "status is required")
		return
	}

	lead, err := h.cases.UpdateLeadStatus(c.Request.Context(), c.Param("id"), req.Status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "lead not found")
	case errors.Is(err, store.ErrInvalidTransition):
		fail(c, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("Failed to update lead", "case_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, "failed to update lead")
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "data": lead})
	}
}

// Retrieve runs a retrieval and reports its summary. Failed courts are
// part of the summary, only an invalid request is an error status.
func (h *Handlers) Retrieve(c *gin.Context) {
	var req struct {
		From   string   `json:"from"`
		To     string   `json:"to"`
		Courts []string `json:"courts"`
		Force  bool     `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	var r harvest.Request
	var err error
	if r.From, err = parseDate("from", req.From); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if r.To, err = parseDate("to", req.To); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	r.Courts = req.Courts
	r.Force = req.Force

	summary, err := h.retriever.RetrieveCases(c.Request.Context(), r)
	if err != nil {
		fail(c, http.StatusBadRequest, summary.Message)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Scrapers lists the registered scrapers with their courts and saved state
func (h *Handlers) Scrapers(c *gin.Context) {
	saved, err := h.states.All(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load scraper states", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load scraper states")
		return
	}
	states := make(map[string]map[string]interface{}, len(saved))
	for _, s := range saved {
		states[s.Name] = s.State
	}

	var data []gin.H
	for _, name := range h.registry.Names() {
		list, _ := h.registry.Courts(name)
		data = append(data, gin.H{"name": name, "courts": list, "state": states[name]})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// CacheStats returns cache statistics
func (h *Handlers) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   h.cache.Stats(),
	})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return page, limit
}

func queryDate(c *gin.Context, key string) (time.Time, error) {
	return parseDate(key, c.Query(key))
}

func parseDate(key, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be a YYYY-MM-DD date")
	}
	return t, nil
}

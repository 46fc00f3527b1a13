package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/backtest"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/patterns"
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}

// ============================================================================
// CHANNELS
// ============================================================================

// handleListChannels returns all registered message channels
// GET /api/channels
func (s *Server) handleListChannels(c *gin.Context) {
	channels, err := s.repo.ListChannels(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, channels)
}

// handleCreateChannel registers a new message channel
// POST /api/channels
// Body: {"name": "Trading chat", "source": "telegram", "external_id": "-100123"}
func (s *Server) handleCreateChannel(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		Source     string `json:"source" binding:"required"`
		ExternalID string `json:"external_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ch := &database.Channel{
		Name:       req.Name,
		Source:     req.Source,
		ExternalID: req.ExternalID,
		IsActive:   true,
	}
	if err := s.repo.CreateChannel(c.Request.Context(), ch); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": ch})
}

// handleToggleChannel flips a channel's active flag
// POST /api/channels/:id/toggle
func (s *Server) handleToggleChannel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.SetChannelActive(c.Request.Context(), id, *req.Active); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Channel not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"id": id, "active": *req.Active})
}

// handleChannelStats returns per-parse-state message counts for a channel
// GET /api/channels/:id/stats
func (s *Server) handleChannelStats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	counts, err := s.repo.CountMessagesByState(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, counts)
}

// handleResetFailed re-queues a channel's failed messages for parsing.
// Garbage stays dropped; only recoverable failures are retried.
// POST /api/channels/:id/reset-failed
func (s *Server) handleResetFailed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	n, err := s.repo.ResetFailedMessages(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"reset": n})
}

// ============================================================================
// PATTERNS
// ============================================================================

// handleListPatterns returns all extraction patterns
// GET /api/patterns
func (s *Server) handleListPatterns(c *gin.Context) {
	list, err := s.repo.ListPatterns(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, list)
}

// handleCreatePattern stores a new extraction pattern
// POST /api/patterns
func (s *Server) handleCreatePattern(c *gin.Context) {
	var p patterns.Pattern
	if err := c.ShouldBindJSON(&p); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	// Reject before persisting, not at the next reload.
	if err := p.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.CreatePattern(c.Request.Context(), &p); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": p})
}

// handleUpdatePattern updates an existing pattern
// PUT /api/patterns/:id
func (s *Server) handleUpdatePattern(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var p patterns.Pattern
	if err := c.ShouldBindJSON(&p); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	p.ID = id

	if err := p.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.UpdatePattern(c.Request.Context(), &p); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Pattern not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, p)
}

// handleDeletePattern removes a pattern
// DELETE /api/patterns/:id
func (s *Server) handleDeletePattern(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.repo.DeletePattern(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Pattern not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"deleted": id})
}

// handleReloadPatterns recompiles the pattern snapshot from the database.
// Bad patterns are reported, not fatal; the rest of the set goes live.
// POST /api/patterns/reload
func (s *Server) handleReloadPatterns(c *gin.Context) {
	compileErrs, err := s.pipeline.ReloadPatterns(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"compile_errors": compileErrs})
}

// ============================================================================
// CONSENSUS RULES
// ============================================================================

// handleListRules returns all consensus rules
// GET /api/rules
func (s *Server) handleListRules(c *gin.Context) {
	list, err := s.repo.ListRules(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, list)
}

// handleCreateRule stores a new consensus rule
// POST /api/rules
func (s *Server) handleCreateRule(c *gin.Context) {
	var rule consensus.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if rejected := rule.Validate(); rejected != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "rejected": rejected})
		return
	}

	if err := s.repo.CreateRule(c.Request.Context(), &rule); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": rule})
}

// handleGetRule returns a single rule
// GET /api/rules/:id
func (s *Server) handleGetRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	rule, err := s.repo.GetRuleByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Rule not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, rule)
}

// handleUpdateRule updates an existing rule
// PUT /api/rules/:id
func (s *Server) handleUpdateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var rule consensus.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = id

	if rejected := rule.Validate(); rejected != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "rejected": rejected})
		return
	}

	if err := s.repo.UpdateRule(c.Request.Context(), &rule); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Rule not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, rule)
}

// handleDeleteRule removes a rule
// DELETE /api/rules/:id
func (s *Server) handleDeleteRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.repo.DeleteRule(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Rule not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"deleted": id})
}

// handleReloadRules rebuilds the detector from the stored rule set
// POST /api/rules/reload
func (s *Server) handleReloadRules(c *gin.Context) {
	rejected, err := s.pipeline.ReloadRules(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"rejected": rejected})
}

// ============================================================================
// PIPELINE TRIGGERS
// ============================================================================

// handleParse runs one extraction pass over unparsed messages
// POST /api/parse?limit=500
func (s *Server) handleParse(c *gin.Context) {
	limit := 500
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	stats, err := s.pipeline.ParseUnparsed(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, stats)
}

// handleDetect runs one consensus detection pass over new signals
// POST /api/detect
func (s *Server) handleDetect(c *gin.Context) {
	detected, err := s.pipeline.DetectNew(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"detected": len(detected), "events": detected})
}

// ============================================================================
// SIGNALS
// ============================================================================

// handleGetSignals returns recent signals for a ticker
// GET /api/signals?ticker=SBER&limit=100
func (s *Server) handleGetSignals(c *gin.Context) {
	ticker := c.Query("ticker")
	if ticker == "" {
		errorResponse(c, http.StatusBadRequest, "ticker query parameter is required")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	signals, err := s.repo.GetSignalsByTicker(c.Request.Context(), ticker, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, signals)
}

// ============================================================================
// CONSENSUS EVENTS
// ============================================================================

// handleListEvents returns consensus events matching query filters
// GET /api/events?rule_id=1&ticker=SBER&status=active&from=2026-01-01T00:00:00Z&limit=50
func (s *Server) handleListEvents(c *gin.Context) {
	var filter database.EventFilter

	if raw := c.Query("rule_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid rule_id")
			return
		}
		filter.RuleID = id
	}
	filter.Ticker = c.Query("ticker")
	filter.Status = consensus.EventStatus(c.Query("status"))
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid from timestamp (use RFC3339)")
			return
		}
		filter.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid to timestamp (use RFC3339)")
			return
		}
		filter.To = t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	evs, err := s.repo.ListEvents(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, evs)
}

// handleGetEvent returns one consensus event by UUID
// GET /api/events/:id
func (s *Server) handleGetEvent(c *gin.Context) {
	ev, err := s.repo.GetEventByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Event not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, ev)
}

// handleGetEventSignals returns the signals that formed an event
// GET /api/events/:id/signals
func (s *Server) handleGetEventSignals(c *gin.Context) {
	signals, err := s.repo.GetSignalsForEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, signals)
}

// handleCloseStaleEvents closes active events older than max_age_hours
// POST /api/events/close-stale?max_age_hours=24
func (s *Server) handleCloseStaleEvents(c *gin.Context) {
	hours := 24
	if raw := c.Query("max_age_hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "Invalid max_age_hours")
			return
		}
		hours = n
	}

	closed, err := s.pipeline.CloseStaleEvents(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"closed": closed})
}

// ============================================================================
// BACKTESTS
// ============================================================================

// handleRunBacktest executes a backtest over stored consensus events
// POST /api/backtests
// Body: {"from": "...", "to": "...", "take_profit_pct": 5, "stop_loss_pct": 3,
//        "holding_hours": 24, "initial_capital": 100000, "position_size_pct": 10}
func (s *Server) handleRunBacktest(c *gin.Context) {
	var params backtest.Params
	if err := c.ShouldBindJSON(&params); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := params.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	run, result, err := s.pipeline.RunBacktest(c.Request.Context(), params)
	if err != nil {
		if run != nil {
			// The run record carries the failure; point the caller at it.
			c.JSON(http.StatusBadGateway, gin.H{"error": true, "message": err.Error(), "run_id": run.ID})
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	successResponse(c, gin.H{"run": run, "result": result})
}

// handleListBacktests returns recent backtest runs, newest first
// GET /api/backtests?limit=20
func (s *Server) handleListBacktests(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.repo.ListBacktestRuns(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, runs)
}

// handleGetBacktest returns one stored backtest run
// GET /api/backtests/:id
func (s *Server) handleGetBacktest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	run, err := s.repo.GetBacktestRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "Backtest run not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, run)
}

// handleGetBacktestTrades returns the simulated trades of a run
// GET /api/backtests/:id/trades
func (s *Server) handleGetBacktestTrades(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	trades, err := s.repo.GetRunTrades(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, trades)
}

// ============================================================================
// QUOTES
// ============================================================================

// handleGetQuote returns the latest quote for a ticker, serving from the
// live stream when it has one and falling back to the provider otherwise
// GET /api/quotes/:ticker
func (s *Server) handleGetQuote(c *gin.Context) {
	ticker := c.Param("ticker")

	if s.quotes != nil {
		if q, ok := s.quotes.LastQuote(ticker); ok {
			successResponse(c, q)
			return
		}
	}

	quote, err := s.market.LastQuote(c.Request.Context(), ticker)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			errorResponse(c, http.StatusNotFound, "No quote for ticker")
			return
		}
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, quote)
}

// ============================================================================
// CACHE
// ============================================================================

// handleInvalidateCache drops every cached entry for a ticker so the next
// backtest refetches fresh bars
// DELETE /api/cache/:ticker
func (s *Server) handleInvalidateCache(c *gin.Context) {
	if s.cache == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Cache is not configured")
		return
	}

	ticker := c.Param("ticker")
	if err := s.cache.InvalidateTicker(c.Request.Context(), ticker); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"ticker": ticker, "invalidated": true})
}

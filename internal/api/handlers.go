package api

import (
	"net/http"
	"strconv"

	"hyperliquid-copy-bot/internal/auth"

	"github.com/gin-gonic/gin"
)

func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// handleHealth reports store and engine liveness. Public.
func (s *Server) handleHealth(c *gin.Context) {
	storeHealthy := s.db.HealthCheck(c.Request.Context()) == nil
	status := s.engine.Status()

	code := http.StatusOK
	if !storeHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"store":        storeHealthy,
		"scan_running": status.ScanRunning,
		"last_scan_at": status.LastScanAt,
		"scan_count":   status.ScanCount,
	})
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges the operator password for an access token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "password is required")
		return
	}

	if s.passwordHash == "" || !auth.CheckPassword(req.Password, s.passwordHash) {
		errorResponse(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.jwtManager.GenerateAccessToken()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	successResponse(c, gin.H{"access_token": token})
}

// handleStatus returns the engine status snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.engine.Status())
}

// handlePositions returns the operator's current venue positions.
func (s *Server) handlePositions(c *gin.Context) {
	state, err := s.venue.ClearinghouseState(c.Request.Context(), s.cfg.VenueConfig.OperatorAccount)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "failed to fetch operator state")
		return
	}
	successResponse(c, gin.H{
		"equity":       state.Equity(),
		"withdrawable": state.Withdrawable,
		"positions":    state.AssetPositions,
	})
}

// handleIndependent returns the active independent book.
func (s *Server) handleIndependent(c *gin.Context) {
	successResponse(c, s.engine.Independent().Book())
}

// handlePredictions returns recent predictions for the configured model.
func (s *Server) handlePredictions(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	predictions, err := s.db.RecentPredictions(c.Request.Context(), s.cfg.PredictionConfig.Model, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to query predictions")
		return
	}
	successResponse(c, predictions)
}

// handleActions returns recent executed copy actions.
func (s *Server) handleActions(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	actions, err := s.db.RecentCopyActions(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to query copy actions")
		return
	}
	successResponse(c, actions)
}

func parseLimit(c *gin.Context, def, max int) int {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

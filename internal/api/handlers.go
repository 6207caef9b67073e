package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/auth"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/engine"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/vault"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ----------------------------------------------------------------------------
// Auth
// ----------------------------------------------------------------------------

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := s.authService.Register(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	case errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too weak: need 8+ chars and 3 character classes"})
		return
	case err != nil:
		s.log.Error("register failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "email": user.Email})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, tokens, err := s.authService.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	case errors.Is(err, auth.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	case err != nil:
		s.log.Error("login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      user.ID,
		"email":        user.Email,
		"trading_mode": user.TradingMode,
		"tokens":       tokens,
	})
}

// ----------------------------------------------------------------------------
// Status and account
// ----------------------------------------------------------------------------

func (s *Server) handleStatus(c *gin.Context) {
	userID, ok := auth.UserIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	now := time.Now()
	resp := gin.H{
		"market_open":       s.clock.IsMarketHours(now),
		"scheduler_running": s.sched != nil && s.sched.IsRunning(),
		"server_time":       now.Format(time.RFC3339),
	}
	if e, ok := s.manager.Engine(userID); ok {
		resp["engine"] = e.CurrentStatus()
	}
	if pending, err := s.manager.PendingAlerts(c.Request.Context(), userID); err == nil {
		resp["pending_alerts"] = len(pending)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	client, err := s.brokers.ClientFor(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "brokerage credentials not configured"})
		return
	}
	positions, err := client.GetPositions(c.Request.Context())
	if err != nil {
		s.log.Error("positions fetch failed", "user_id", userID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "brokerage request failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleBalance(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	client, err := s.brokers.ClientFor(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "brokerage credentials not configured"})
		return
	}
	balance, err := client.GetBalance(c.Request.Context())
	if err != nil {
		s.log.Error("balance fetch failed", "user_id", userID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "brokerage request failed"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

// ----------------------------------------------------------------------------
// Alerts
// ----------------------------------------------------------------------------

func (s *Server) handleListAlerts(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	alerts, err := s.manager.PendingAlerts(c.Request.Context(), userID)
	if err != nil {
		s.log.Error("listing alerts failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleApproveAlert(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)
	alertID := c.Param("id")

	user, err := s.repo.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	result, err := s.manager.ApproveAlert(c.Request.Context(), *user, alertID)
	switch {
	case errors.Is(err, engine.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found or already resolved"})
		return
	case errors.Is(err, engine.ErrAlertExpired):
		c.JSON(http.StatusGone, gin.H{"error": "alert expired"})
		return
	case err != nil:
		s.log.Error("alert approval failed", "user_id", userID, "alert_id", alertID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "order placement failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "order": result})
}

func (s *Server) handleRejectAlert(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)
	alertID := c.Param("id")

	user, err := s.repo.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	err = s.manager.RejectAlert(c.Request.Context(), *user, alertID)
	switch {
	case errors.Is(err, engine.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found or already resolved"})
		return
	case err != nil:
		s.log.Error("alert rejection failed", "user_id", userID, "alert_id", alertID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "status": "rejected"})
}

// ----------------------------------------------------------------------------
// Watchlist
// ----------------------------------------------------------------------------

func (s *Server) handleGetWatchlist(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	items, err := s.repo.GetWatchlistItems(c.Request.Context(), userID)
	if err != nil {
		s.log.Error("watchlist fetch failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": items, "count": len(items)})
}

type watchlistRequest struct {
	StockCode     string   `json:"stock_code" binding:"required"`
	StockName     string   `json:"stock_name"`
	TargetPrice   *float64 `json:"target_price"`
	StopLossPrice *float64 `json:"stop_loss_price"`
	Quantity      *int     `json:"quantity"`
}

func (s *Server) handleAddWatchlistItem(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.StockCode) != 6 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stock_code must be a 6-digit KRX code"})
		return
	}

	item := &database.WatchlistItem{
		UserID:        userID,
		StockCode:     req.StockCode,
		StockName:     req.StockName,
		TargetPrice:   req.TargetPrice,
		StopLossPrice: req.StopLossPrice,
		Quantity:      req.Quantity,
	}
	if err := s.repo.AddWatchlistItem(c.Request.Context(), item); err != nil {
		s.log.Error("watchlist add failed", "user_id", userID, "stock_code", req.StockCode, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add watchlist item"})
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleRemoveWatchlistItem(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)
	code := c.Param("code")

	if err := s.repo.RemoveWatchlistItem(c.Request.Context(), userID, code); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not on watchlist"})
			return
		}
		s.log.Error("watchlist remove failed", "user_id", userID, "stock_code", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove watchlist item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock_code": code, "status": "removed"})
}

// ----------------------------------------------------------------------------
// Trades
// ----------------------------------------------------------------------------

func (s *Server) handleListTrades(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	since := time.Now().AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	trades, err := s.repo.GetTradesSince(c.Request.Context(), userID, since)
	if err != nil {
		s.log.Error("trade history fetch failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// ----------------------------------------------------------------------------
// Settings
// ----------------------------------------------------------------------------

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleUpdateMode(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Mode != string(engine.ModeAuto) && req.Mode != string(engine.ModeAlert) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be AUTO or ALERT"})
		return
	}

	if err := s.repo.UpdateUserMode(c.Request.Context(), userID, req.Mode); err != nil {
		s.log.Error("mode update failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update mode"})
		return
	}
	// Rebuild the engine on next tick so the new mode takes effect.
	s.manager.Reset(userID)

	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

type credentialsRequest struct {
	AppKey    string `json:"app_key" binding:"required"`
	AppSecret string `json:"app_secret" binding:"required"`
	AccountNo string `json:"account_no" binding:"required"`
	Sandbox   bool   `json:"sandbox"`
}

func (s *Server) handleUpdateCredentials(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	creds := vault.BrokerCredentials{
		AppKey:    req.AppKey,
		AppSecret: req.AppSecret,
		AccountNo: req.AccountNo,
		Sandbox:   req.Sandbox,
	}
	if err := s.credentials.UpdateCredentials(c.Request.Context(), userID, creds); err != nil {
		s.log.Error("credential update failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
		return
	}
	s.manager.Reset(userID)

	c.JSON(http.StatusOK, gin.H{"status": "updated", "sandbox": req.Sandbox})
}

func (s *Server) handleRemoveCredentials(c *gin.Context) {
	userID, _ := auth.UserIDFrom(c)

	if err := s.credentials.RemoveCredentials(c.Request.Context(), userID); err != nil {
		s.log.Error("credential removal failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove credentials"})
		return
	}
	s.manager.Reset(userID)

	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

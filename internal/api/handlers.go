package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"referral-bot/internal/database"
	"referral-bot/internal/models"
	"referral-bot/internal/referral"
)

type ReferralService interface {
	Register(ctx context.Context, reg referral.Registration) (referral.Result, error)
	ReferralCount(ctx context.Context, id int64) (int64, error)
	Lookup(ctx context.Context, id int64) (*models.User, bool, error)
}

type Handler struct {
	svc    ReferralService
	store  *database.Store
	logger *zap.Logger
}

func NewHandler(svc ReferralService, store *database.Store, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, store: store, logger: logger}
}

type registerRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	ReferrerID  *int64 `json:"referrer_id"`
}

type referralCountResponse struct {
	UserID        int64 `json:"user_id"`
	ReferralCount int64 `json:"referral_count"`
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		fail(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Register(c.Request.Context(), referral.Registration{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Handle:      req.Handle,
		ReferrerID:  req.ReferrerID,
	})
	if err != nil {
		h.fromServiceError(c, err)
		return
	}
	success(c, res)
}

func (h *Handler) GetUser(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	user, found, err := h.svc.Lookup(c.Request.Context(), id)
	if err != nil {
		h.fromServiceError(c, err)
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "user not found")
		return
	}
	success(c, user)
}

func (h *Handler) ReferralCount(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	count, err := h.svc.ReferralCount(c.Request.Context(), id)
	if err != nil {
		h.fromServiceError(c, err)
		return
	}
	success(c, referralCountResponse{UserID: id, ReferralCount: count})
}

func (h *Handler) Schema(c *gin.Context) {
	ctx := c.Request.Context()
	columns, err := database.DescribeUsers(ctx, h.store.DB(ctx))
	if err != nil {
		h.logger.Error("describe schema failed", zap.Error(err))
		fail(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	success(c, columns)
}

func (h *Handler) fromServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, referral.ErrInvalidUserID):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, referral.ErrStoreUnavailable):
		_ = c.Error(err)
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "internal server error")
	}
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

package api

import (
	"fmt"
	"net"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter builds the admin API. X-Forwarded-For is honoured only from trustedProxies; with none,
// the allowlist sees the TCP peer address.
func SetupRouter(mode string, logger *zap.Logger, allowed []*net.IPNet, trustedProxies []string, h *Handler) (*gin.Engine, error) {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	r.Use(Recovery(logger))
	r.Use(RequestID())
	r.Use(RequestLogger(logger))

	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1", AllowCIDRs(allowed))
	{
		v1.POST("/registrations", h.Register)
		v1.GET("/users/:id", h.GetUser)
		v1.GET("/users/:id/referrals", h.ReferralCount)
		v1.GET("/schema", h.Schema)
	}

	return r, nil
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/observability/logger"
	"github.com/smallbiznis/admitpay/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonAttempts      = "attempts"
	rateLimitReasonWebhookSource = "webhook-source"
)

type sessionRateLimitKey struct {
	UserID string `json:"user_id"`
}

// SessionAttemptLimit rejects session creation while the client address and
// user are blocked. Only requests the handler rejects as a client error count
// as attempts, so successful checkouts never lock a user out.
func (s *Server) SessionAttemptLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.attemptGate == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		userID, err := readSessionRateLimitKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("session rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		decision, err := s.attemptGate.Peek(ctx, c.ClientIP(), userID)
		if err != nil {
			if errors.Is(err, ratelimit.ErrInvalidKey) {
				AbortWithError(c, err)
				return
			}
			logger.FromContext(ctx).Warn("session rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		if decision.Blocked {
			s.denyRateLimited(c, endpoint, rateLimitReasonAttempts, decision.RetryAfter(s.clock.Now()))
			if err := s.auditSvc.Record(ctx, auditdomain.Event{
				ActorType:  auditdomain.ActorTypeUser,
				ActorID:    userID,
				Action:     auditdomain.ActionRateLimited,
				Outcome:    auditdomain.OutcomeFailure,
				TargetType: auditdomain.TargetTypeUser,
				TargetID:   userID,
				Metadata: map[string]any{
					"endpoint":      endpoint,
					"attempts":      decision.Attempts,
					"blocked_until": decision.BlockedUntil,
				},
			}); err != nil {
				logger.FromContext(ctx).Warn("failed to audit rate limit block", zap.Error(err))
			}
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()

		if !isCountedFailure(c) {
			return
		}
		decision, err = s.attemptGate.Check(ctx, c.ClientIP(), userID)
		if err != nil {
			logger.FromContext(ctx).Warn("session rate limit count failed", zap.Error(err))
			return
		}
		if decision.Blocked {
			logger.FromContext(ctx).Warn("session attempts exhausted",
				zap.Int("attempts", decision.Attempts),
				zap.Timep("blocked_until", decision.BlockedUntil),
			)
		}
	}
}

// isCountedFailure reports whether the handler rejected the request as a
// client error. The error middleware writes the response later, so the status
// comes from the recorded error.
func isCountedFailure(c *gin.Context) bool {
	last := c.Errors.Last()
	if last == nil {
		return false
	}
	status, _ := mapError(last.Err)
	return status >= http.StatusBadRequest &&
		status < http.StatusInternalServerError &&
		status != http.StatusTooManyRequests
}

// WebhookIngressLimit throttles gateway callbacks per source address. Limiter
// errors let the request through so paid notifications are never dropped.
func (s *Server) WebhookIngressLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingressLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.ingressLimiter.AllowSource(ctx, c.Param("provider"), c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("webhook ingress rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			s.denyRateLimited(c, endpoint, rateLimitReasonWebhookSource, result.RetryAfter)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func (s *Server) denyRateLimited(c *gin.Context, endpoint, reason string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
		zap.String("client_ip", c.ClientIP()),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", retryAfterSeconds(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

// readSessionRateLimitKey peeks at the user id and restores the body for the
// handler.
func readSessionRateLimitKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload sessionRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.UserID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

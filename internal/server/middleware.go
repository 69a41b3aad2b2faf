package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ctxApp  = "app"
	ctxBody = "body"

	maxBodySize = 1 << 20
)

// loggerMiddleware logs every request once it has been served
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// signatureMiddleware resolves the app of an HTTP API request and checks
// the request signature. The body is read once and kept for handlers.
func (s *Server) signatureMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := s.broker.Apps().FindByID(c.Request.Context(), c.Param("app_id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, cnst.ErrAppNotFound) {
				status = http.StatusNotFound
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(body) > maxBodySize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		err = verifyRequest(a.Key, a.Secret, c.Request.Method, c.Request.URL.Path, c.Request.URL.Query(), body, s.clock.Now())
		if err != nil {
			s.logger.Debug("rejected api request", zap.String("app_id", a.ID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		s.broker.Members().RecordHTTPRequest(a.ID)
		c.Set(ctxApp, a)
		c.Set(ctxBody, body)
		c.Next()
	}
}

func appFrom(c *gin.Context) *app.Application {
	return c.MustGet(ctxApp).(*app.Application)
}

func bodyFrom(c *gin.Context) []byte {
	return c.MustGet(ctxBody).([]byte)
}

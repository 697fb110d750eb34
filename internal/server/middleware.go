package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"grain-size-analysis/internal/core"
)

const requestIDHeader = "X-Request-ID"

// requestID tags every request, reusing the caller's ID when present
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP: request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("HTTP: request rejected")
		default:
			entry.Info("HTTP: request served")
		}
	}
}

func (s *Server) recovered(c *gin.Context, err any) {
	s.logger.WithFields(logrus.Fields{
		"request_id": c.GetString("request_id"),
		"panic":      err,
	}).Error("HTTP: recovered from panic")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": core.ErrProcessing.Error()})
}

// limitBody rejects declared oversize bodies up front and caps the rest
func (s *Server) limitBody() gin.HandlerFunc {
	limit := s.cfg.Server.MaxUploadBytes
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			s.fail(c, core.ErrTooLarge)
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// limitConcurrency admits at most server.maxConcurrent requests into the
// pipeline. Waiting requests give up when the client goes away.
func (s *Server) limitConcurrency() gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case s.slots <- struct{}{}:
		case <-c.Request.Context().Done():
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
			return
		}
		defer func() { <-s.slots }()
		c.Next()
	}
}

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/logger"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
	"github.com/MiracleAig/IoT-WebUI/internal/service"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.health.Ping(c.Request.Context()); err != nil {
		logger.FromGin(c).Warn("Health check failed", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "UNAVAILABLE")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"time": models.FormatTimestamp(time.Now()),
	})
}

func (s *Server) handleProduct(c *gin.Context) {
	barcode := strings.TrimSpace(c.Param("barcode"))
	if barcode == "" {
		s.writeError(c, service.ErrBarcodeRequired)
		return
	}

	p, err := s.resolver.Resolve(c.Request.Context(), barcode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "product": p})
}

func (s *Server) handleScan(c *gin.Context) {
	var in models.ScanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		logger.FromGin(c).Debug("Rejected scan body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid JSON body"})
		return
	}

	rec, err := s.recorder.Record(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"id":      rec.ID,
		"ts":      rec.Timestamp,
		"barcode": rec.Barcode,
	})
}

func (s *Server) handleScans(c *gin.Context) {
	filter := models.ScanFilter{
		Date:    c.Query("date"),
		Barcode: c.Query("barcode"),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	rows, err := s.recorder.History(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "rows": rows})
}

func (s *Server) handleSummaryToday(c *gin.Context) {
	s.writeSummary(c, s.summarizer.Today())
}

func (s *Server) handleSummary(c *gin.Context) {
	s.writeSummary(c, c.Query("date"))
}

func (s *Server) writeSummary(c *gin.Context, day string) {
	sum, err := s.summarizer.Summarize(c.Request.Context(), day)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"date":     sum.Date,
		"calories": sum.Calories,
		"protein":  sum.Protein,
		"carbs":    sum.Carbs,
		"fat":      sum.Fat,
		"scans":    sum.Scans,
	})
}

// writeError maps domain errors onto status codes. Internal details are
// logged and never sent to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, service.ErrBarcodeRequired):
		status, msg = http.StatusBadRequest, "barcode is required"
	case errors.Is(err, models.ErrValidation):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	}

	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("Request failed", zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"ok": false, "error": msg})
}

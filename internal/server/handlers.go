package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"grain-size-analysis/internal/core"
	"grain-size-analysis/internal/export"
	imageio "grain-size-analysis/internal/io"
	"grain-size-analysis/internal/render"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"open_figures": render.OpenFigures(),
	})
}

// handleUpload analyzes the multipart "file" field. Optional fields are
// "pixels_to_um" (µm per pixel) and "roi" (x,y,w,h).
func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: %v", core.ErrNoFile, err)
		}
		s.fail(c, err)
		return
	}
	if strings.TrimSpace(fh.Filename) == "" {
		s.fail(c, core.ErrEmptyFilename)
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	scratch, err := imageio.NewScratch(s.cfg.Server.ScratchDir)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer s.cleanup(c, scratch)

	path := scratch.Path(fh.Filename)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		s.fail(c, fmt.Errorf("saving upload: %w", err))
		return
	}
	opts.Name = imageio.SecureFilename(fh.Filename)

	analysis, err := s.pipeline.AnalyzeFile(c.Request.Context(), path, opts)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, analysis)
}

func parseOptions(c *gin.Context) (core.Options, error) {
	var opts core.Options

	if raw := strings.TrimSpace(c.PostForm("pixels_to_um")); raw != "" {
		scale, err := strconv.ParseFloat(raw, 64)
		if err != nil || scale <= 0 {
			return opts, fmt.Errorf("%w: %q", core.ErrInvalidScale, raw)
		}
		opts.Scale = scale
	}

	if raw := strings.TrimSpace(c.PostForm("roi")); raw != "" {
		roi, err := core.ParseROI(raw)
		if err != nil {
			return opts, err
		}
		opts.ROI = roi
	}

	return opts, nil
}

// handleDownloadCSV turns an analysis payload back into a CSV attachment
func (s *Server) handleDownloadCSV(c *gin.Context) {
	var analysis core.Analysis
	if err := c.ShouldBindJSON(&analysis); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, core.ErrTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}
	if analysis.ImageName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}

	scratch, err := imageio.NewScratch(s.cfg.Server.ScratchDir)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer s.cleanup(c, scratch)

	filename := export.Filename(analysis.ImageName)
	path := scratch.Path(filename)

	f, err := os.Create(path)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := export.WriteCSV(f, &analysis); err != nil {
		f.Close()
		s.fail(c, err)
		return
	}
	if err := f.Close(); err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.FileAttachment(path, imageio.SecureFilename(filename))
}

func (s *Server) cleanup(c *gin.Context, scratch *imageio.Scratch) {
	if err := scratch.Close(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"dir":        scratch.Dir(),
		}).WithError(err).Warn("Failed to remove scratch directory")
	}
}

// fail writes the JSON error body. Client faults echo the error text; every
// other failure is reported generically and logged in full.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Error processing image"
		s.logger.WithField("request_id", c.GetString("request_id")).WithError(err).Error("Request failed")
	} else if errors.Is(err, core.ErrNoFile) {
		message = "No file part"
	} else if errors.Is(err, core.ErrEmptyFilename) {
		message = "No selected file"
	}

	c.JSON(status, gin.H{"error": message})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case core.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

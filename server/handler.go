// Package server exposes scan history and on-demand detection over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/history"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/pipeline"
	"github.com/nvr-ai/go-detect/report"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AnomalyRequest is one anomaly in a save request; missing fields get placeholder values.
type AnomalyRequest struct {
	AnomalyName string `json:"anomalyName"`
	Percentage  string `json:"percentage"`
}

// SaveScanRequest is the body of POST /scans.
type SaveScanRequest struct {
	ImageURL  string           `json:"imageUrl"`
	Anomalies []AnomalyRequest `json:"anomalies"`
}

// DetectResponse is the body of a successful POST /detect.
type DetectResponse struct {
	ProcessedImage string         `json:"processedImage"`
	Anomalies      []report.Entry `json:"anomalies"`
	Scan           history.Scan   `json:"scan"`
}

// Event is the message broadcast to WebSocket clients.
type Event struct {
	Type string       `json:"type"`
	Scan history.Scan `json:"scan"`
}

// Options wires a Handler. Detector may be nil, in which case POST /detect answers 503.
type Options struct {
	Config     config.Config
	Store      *history.Store
	Hub        *Hub
	Detector   pipeline.Detector
	Names      models.ClassNames
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Handler serves the scan API.
type Handler struct {
	cfg      config.Config
	store    *history.Store
	hub      *Hub
	detector pipeline.Detector
	names    models.ClassNames
	client   *http.Client
	log      logrus.FieldLogger

	// detectMu serializes runs, which share the processed directory and its report file.
	detectMu sync.Mutex
}

// NewHandler creates a handler, filling in a download client and class names when absent.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		cfg:      opts.Config,
		store:    opts.Store,
		hub:      opts.Hub,
		detector: opts.Detector,
		names:    opts.Names,
		client:   opts.HTTPClient,
		log:      opts.Logger,
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: opts.Config.Server.DownloadTimeout}
	}
	if h.names == nil {
		h.names = models.YOLOClasses
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	return h
}

// Router builds the gin engine with every route mounted.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log), cors.Default())
	router.MaxMultipartMemory = h.cfg.Server.MaxUploadBytes

	router.Static("/images", h.cfg.Server.ImageDir)
	router.Static("/processed_images", h.cfg.Server.ProcessedDir)

	router.GET("/scans", h.ListScans)
	router.GET("/scans/:id", h.GetScan)
	router.POST("/scans", h.SaveScan)
	router.DELETE("/scans/:id", h.DeleteScan)
	router.POST("/detect", h.Detect)
	if h.hub != nil {
		router.GET("/ws", h.hub.ServeWS)
	}

	return router
}

// ListScans returns every stored scan, newest first.
//
// Endpoint: GET /scans?limit=N
func (h *Handler) ListScans(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	scans, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list scans")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error fetching image data"})
		return
	}
	c.JSON(http.StatusOK, scans)
}

// GetScan returns one scan.
//
// Endpoint: GET /scans/:id
func (h *Handler) GetScan(c *gin.Context) {
	id, ok := scanID(c)
	if !ok {
		return
	}

	scan, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, history.ErrScanNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Scan not found"})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to fetch scan")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error fetching image data"})
		return
	}
	c.JSON(http.StatusOK, scan)
}

// DeleteScan removes one scan. The downloaded image is left on disk.
//
// Endpoint: DELETE /scans/:id
func (h *Handler) DeleteScan(c *gin.Context) {
	id, ok := scanID(c)
	if !ok {
		return
	}

	err := h.store.Delete(c.Request.Context(), id)
	if errors.Is(err, history.ErrScanNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Scan not found"})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to delete scan")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error deleting scan"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SaveScan downloads the image at imageUrl into the image directory and stores it with its
// anomalies.
//
// Endpoint: POST /scans
// Content-Type: application/json
func (h *Handler) SaveScan(c *gin.Context) {
	var req SaveScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Image URL is required"})
		return
	}

	name, err := remoteFileName(req.ImageURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Image URL must be an http(s) URL ending in a file name"})
		return
	}

	log := h.log.WithField("url", req.ImageURL)
	if err := h.download(c.Request.Context(), req.ImageURL, name); err != nil {
		log.WithError(err).Error("Error fetching image")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Error fetching image"})
		return
	}
	log.WithField("file", name).Info("Image saved")

	anomalies := make([]report.Entry, len(req.Anomalies))
	for i, a := range req.Anomalies {
		anomalies[i] = report.Entry{AnomalyName: a.AnomalyName, Percentage: a.Percentage}
		if anomalies[i].AnomalyName == "" {
			anomalies[i].AnomalyName = "Unknown"
		}
		if anomalies[i].Percentage == "" {
			anomalies[i].Percentage = "0%"
		}
	}

	scan, err := h.saveScan(c.Request.Context(), h.publicURL("images", name), anomalies)
	if err != nil {
		log.WithError(err).Error("Error processing image data")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error processing image data"})
		return
	}
	c.JSON(http.StatusCreated, scan)
}

// Detect runs the detection pipeline over an uploaded image, stores the scan and returns the
// report.
//
// Endpoint: POST /detect
// Content-Type: multipart/form-data
// Field: image
func (h *Handler) Detect(c *gin.Context) {
	if h.detector == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Detection is not enabled"})
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "An image file is required"})
		return
	}
	if limit := h.cfg.Server.MaxUploadBytes; limit > 0 && file.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Image is too large"})
		return
	}

	name := filepath.Base(file.Filename)
	if !validFileName(name) || !images.IsImagePath(name) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unsupported image type"})
		return
	}

	source := filepath.Join(h.cfg.Server.ImageDir, name)
	if err := os.MkdirAll(h.cfg.Server.ImageDir, 0o755); err != nil {
		h.log.WithError(err).Error("Failed to create image directory")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error saving image"})
		return
	}
	h.warnOverwrite(source)
	if err := c.SaveUploadedFile(file, source); err != nil {
		h.log.WithError(err).Error("Failed to save upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error saving image"})
		return
	}

	result, err := h.runDetection(c.Request.Context(), source)
	if err != nil {
		h.log.WithError(err).WithField("image", name).Error("Detection failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Detection failed"})
		return
	}
	if result.ImagesProcessed == 0 {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "Image could not be processed"})
		return
	}

	scan, err := h.saveScan(c.Request.Context(), h.publicURL("images", name), result.Anomalies)
	if err != nil {
		h.log.WithError(err).Error("Error processing image data")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error processing image data"})
		return
	}

	c.JSON(http.StatusOK, DetectResponse{
		ProcessedImage: h.publicURL("processed_images", filepath.Base(result.ProcessedImage)),
		Anomalies:      result.Anomalies,
		Scan:           scan,
	})
}

func (h *Handler) runDetection(ctx context.Context, source string) (report.Report, error) {
	h.detectMu.Lock()
	defer h.detectMu.Unlock()

	runner, err := pipeline.NewRunner(h.detector, pipeline.NewFileSource([]string{source}, h.cfg.ImageSize), pipeline.Options{
		NMS:       h.cfg.NMS(),
		Names:     h.names,
		OutputDir: h.cfg.Server.ProcessedDir,
		Logger:    h.log,
	})
	if err != nil {
		return report.Report{}, err
	}
	return runner.Run(ctx)
}

func (h *Handler) saveScan(ctx context.Context, imageURL string, anomalies []report.Entry) (history.Scan, error) {
	scan := history.Scan{ImageURL: imageURL, Anomalies: anomalies}
	if err := h.store.Save(ctx, &scan); err != nil {
		return history.Scan{}, err
	}

	if h.hub != nil {
		message, err := json.Marshal(Event{Type: "scan", Scan: scan})
		if err != nil {
			h.log.WithError(err).Warn("Failed to encode scan event")
		} else {
			h.hub.Broadcast(message)
		}
	}
	return scan, nil
}

// download streams url into the image directory under name.
func (h *Handler) download(ctx context.Context, rawURL, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(h.cfg.Server.ImageDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(h.cfg.Server.ImageDir, name)
	h.warnOverwrite(dest)
	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	body := io.Reader(resp.Body)
	limit := h.cfg.Server.MaxUploadBytes
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && limit > 0 && n > limit {
		err = errors.Errorf("image larger than %d bytes", limit)
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

// warnOverwrite logs when path already holds an image that is about to be replaced.
func (h *Handler) warnOverwrite(path string) {
	if _, err := os.Stat(path); err == nil {
		h.log.WithField("image", path).Warn("Overwriting existing image")
	}
}

func (h *Handler) publicURL(prefix, name string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(h.cfg.Server.PublicURL, "/"), prefix, url.PathEscape(name))
}

// remoteFileName returns the last path element of an http(s) URL.
func remoteFileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.Errorf("%q is not an absolute http(s) URL", rawURL)
	}
	name := path.Base(u.Path)
	if !validFileName(name) {
		return "", errors.Errorf("%q has no file name", rawURL)
	}
	return name, nil
}

func validFileName(name string) bool {
	return name != "" && name != "." && name != ".." && name != "/" && !strings.ContainsAny(name, `/\`)
}

func scanID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid scan id"})
		return 0, false
	}
	return uint(id), true
}

// requestLogger logs one line per request.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("Request")
	}
}

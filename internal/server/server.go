package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mediaflow/internal/media"
	"mediaflow/internal/models"
)

const serviceName = "mediaflow"

// retryAfterSeconds is advertised while a download is not ready yet.
const retryAfterSeconds = "60"

type MediaService interface {
	Upload(ctx context.Context, mr *multipart.Reader, width int) (string, error)
	Get(ctx context.Context, id string) (*models.Media, error)
	DownloadURL(ctx context.Context, id string) (string, error)
	RequestResize(ctx context.Context, id string, width int) error
	RequestDelete(ctx context.Context, id string) error
}

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	srv    *http.Server
	media  MediaService
	log    zerolog.Logger
}

// NewServer wires the routes. metrics may be nil.
func NewServer(cfg *models.Config, svc MediaService, metrics http.Handler, log zerolog.Logger) *Server {
	r := gin.New()

	s := &Server{
		cfg:    cfg,
		router: r,
		media:  svc,
		log:    log.With().Str("component", "http").Logger(),
	}

	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", s.handleHealth)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/v1/media")
	v1.POST("/upload", s.handleUpload)
	v1.GET("/:id/status", s.handleStatus)
	v1.GET("/:id/download", s.handleDownload)
	v1.GET("/:id", s.handleGet)
	v1.PUT("/:id/resize", s.handleResize)
	v1.DELETE("/:id", s.handleDelete)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Int("status", c.Writer.Status()).
			Str("url", c.Request.URL.RequestURI()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	width, ok := s.width(c, c.Query("width"))
	if !ok {
		return
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		s.fail(c, "", fmt.Errorf("%w: %v", media.ErrMalformedRequest, err))
		return
	}

	id, err := s.media.Upload(c.Request.Context(), mr, width)
	if err != nil {
		s.fail(c, "", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"mediaId": id})
}

func (s *Server) handleStatus(c *gin.Context) {
	id := c.Param("id")
	m, err := s.media.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": m.Status})
}

func (s *Server) handleDownload(c *gin.Context) {
	id := c.Param("id")
	url, err := s.media.DownloadURL(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotReady) {
		c.Header("Retry-After", retryAfterSeconds)
		c.Header("Location", "/v1/media/"+id+"/status")
		c.JSON(http.StatusAccepted, gin.H{"message": "Media processing in progress."})
		return
	}
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (s *Server) handleGet(c *gin.Context) {
	id := c.Param("id")
	m, err := s.media.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleResize(c *gin.Context) {
	id := c.Param("id")
	width, ok := s.width(c, resizeWidth(c))
	if !ok {
		return
	}

	if err := s.media.RequestResize(c.Request.Context(), id, width); err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"mediaId": id})
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := s.media.RequestDelete(c.Request.Context(), id); err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"mediaId": id})
}

// resizeWidth reads width from the query string, then from a JSON or form body.
func resizeWidth(c *gin.Context) string {
	if w := c.Query("width"); w != "" {
		return w
	}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body struct {
			Width json.Number `json:"width"`
		}
		err := json.NewDecoder(c.Request.Body).Decode(&body)
		if errors.Is(err, io.EOF) {
			return ""
		}
		if err != nil {
			return "invalid"
		}
		return body.Width.String()
	}
	return c.PostForm("width")
}

func (s *Server) width(c *gin.Context, raw string) (int, bool) {
	m := s.cfg.Media
	w, err := models.ParseWidth(raw, m.DefaultWidth, m.MinWidth, m.MaxWidth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return 0, false
	}
	return w, true
}

var badRequest = []error{
	media.ErrTooManyFiles,
	media.ErrMalformedRequest,
	media.ErrInvalidFileType,
	media.ErrNoFile,
	media.ErrEmptyFile,
}

// fail maps err to a response. Only unexpected errors are logged here; the
// service has already logged its own failures with context.
func (s *Server) fail(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
		return
	case errors.Is(err, media.ErrFileTooLarge):
		maxMB := s.cfg.Media.MaxFileSize / (1024 * 1024)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"message": fmt.Sprintf("Failed to upload media. Check the file size. Max size is %d MB.", maxMB),
		})
		return
	}

	for _, target := range badRequest {
		if errors.Is(err, target) {
			c.JSON(http.StatusBadRequest, gin.H{"message": target.Error()})
			return
		}
	}

	s.log.Error().Err(err).Str("media_id", id).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}

package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nlcal/internal/config"
	"nlcal/internal/ics"
	appLog "nlcal/internal/log"
	"nlcal/internal/model"
	"nlcal/internal/orchestrator"
	"nlcal/internal/store"
)

const (
	defaultSession = "default"
	maxImportBytes = 8 << 20
)

// Server exposes the command pipeline and calendar data over HTTP.
type Server struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	store  store.EventStore
	engine *gin.Engine
	now    func() time.Time
}

// NewServer builds the gin engine. debug switches gin to debug mode.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, st store.EventStore, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		store:  st,
		engine: gin.New(),
		now:    time.Now,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether both a username and a password are set.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) registerRoutes() {
	// /health is always public.
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	if s.basicAuthEnabled() {
		api.Use(gin.BasicAuthForRealm(gin.Accounts{
			s.cfg.BasicAuth.Username: s.cfg.BasicAuth.Password,
		}, "nlcal"))
	}
	api.POST("/command", s.handleCommand)
	api.GET("/events", s.handleEvents)
	api.GET("/slots", s.handleSlots)
	api.GET("/export", s.handleExport)
	api.POST("/import", s.handleImport)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

type commandRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// handleCommand runs one natural-language command.
//
// POST /api/command {"session_id": "...", "message": "删除明天的团队会议"}
func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	session := strings.TrimSpace(req.SessionID)
	if session == "" {
		session = defaultSession
	}
	c.JSON(http.StatusOK, s.orch.Handle(c.Request.Context(), session, req.Message))
}

type eventsResponse struct {
	Events          []model.CalendarEvent `json:"events"`
	RangeStart      time.Time             `json:"range_start"`
	RangeEnd        time.Time             `json:"range_end"`
	DisplayTimeZone string                `json:"display_timezone"`
}

// handleEvents lists concrete instances around today.
//
// GET /api/events?days=7&backfill=1
func (s *Server) handleEvents(c *gin.Context) {
	days := parseIntDefault(c.Query("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(c.Query("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	loc := s.orch.Location()
	today := model.DayStart(s.now().In(loc))
	rangeStart := today.AddDate(0, 0, -backfill)
	rangeEnd := today.AddDate(0, 0, days)

	events, err := s.orch.Events(c.Request.Context(), rangeStart, rangeEnd)
	if err != nil {
		appLog.Error("api events: list failed", err)
		writeError(c, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}
	c.JSON(http.StatusOK, eventsResponse{
		Events:          events,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	})
}

// handleSlots lists free slots within working hours.
//
// GET /api/slots?date=2026-10-20&duration=60
func (s *Server) handleSlots(c *gin.Context) {
	loc := s.orch.Location()
	date := model.DayStart(s.now().In(loc))
	if raw := c.Query("date"); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	minutes := parseIntDefault(c.Query("duration"), s.cfg.DefaultDurationMinutes)
	if minutes <= 0 {
		writeError(c, http.StatusBadRequest, "duration must be a positive number of minutes")
		return
	}

	slots, err := s.orch.Slots(c.Request.Context(), date, time.Duration(minutes)*time.Minute)
	if err != nil {
		appLog.Error("api slots: failed", err)
		writeError(c, http.StatusInternalServerError, "failed to compute slots")
		return
	}
	if slots == nil {
		slots = []model.TimeSlot{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format("2006-01-02"), "slots": slots})
}

// handleExport downloads every stored event.
//
// GET /api/export?format=ics|csv|xlsx
func (s *Server) handleExport(c *gin.Context) {
	format := c.DefaultQuery("format", "ics")
	events, err := s.allEvents(c.Request.Context())
	if err != nil {
		appLog.Error("api export: list failed", err)
		writeError(c, http.StatusInternalServerError, "failed to list events")
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format {
	case "ics":
		err = ics.Export(&buf, events, s.now())
		contentType = "text/calendar; charset=utf-8"
	case "csv":
		err = ics.WriteCSV(&buf, events)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		err = ics.WriteXLSX(&buf, events)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		writeError(c, http.StatusBadRequest, "format must be ics, csv or xlsx")
		return
	}
	if err != nil {
		appLog.Error("api export: encode failed", err, "format", format)
		writeError(c, http.StatusInternalServerError, "failed to export events")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="calendar.`+format+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// handleImport adds the events of an uploaded file.
//
// POST /api/import?format=ics|csv with the file as the request body.
func (s *Server) handleImport(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read body")
		return
	}

	loc := s.orch.Location()
	var events []model.CalendarEvent
	switch format := c.DefaultQuery("format", "ics"); format {
	case "ics":
		items, perr := ics.Parse(body, loc)
		err = perr
		for _, it := range items {
			events = append(events, it.Event)
		}
	case "csv":
		events, err = ics.ReadCSV(bytes.NewReader(body), loc)
	default:
		writeError(c, http.StatusBadRequest, "format must be ics or csv")
		return
	}
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid file: "+err.Error())
		return
	}

	n, err := ics.ImportEvents(c.Request.Context(), s.store, events)
	resp := gin.H{"imported": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) allEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	return s.store.List(ctx, time.Unix(0, 0), s.now().AddDate(20, 0, 0))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

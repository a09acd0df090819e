package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"classroom/internal/leaderboard"
	"classroom/internal/registry"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// Rooms is the registry view served over HTTP
type Rooms interface {
	Stats() []registry.RoomStats
	Members(roomID string) []types.Participant
}

// Scores is the store view served over HTTP
type Scores interface {
	HealthCheck(ctx context.Context) error
	ListScores(ctx context.Context, classID string) ([]types.Score, error)
	CountPopups(ctx context.Context, classID, studentID string) (total, responded int, err error)
}

// Leaderboard serves ranked points
type Leaderboard interface {
	Top(ctx context.Context, classID string, n int) ([]leaderboard.Entry, error)
	Enabled() bool
}

// Deps are the components the HTTP surface reads from
type Deps struct {
	Rooms       Rooms
	Scores      Scores
	Leaderboard Leaderboard
	Auth        interfaces.Authenticator
	Metrics     http.Handler
	WebSocket   http.HandlerFunc
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Deps
	engine  *gin.Engine
	started time.Time
	log     *logrus.Entry
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Rooms       int       `json:"rooms"`
	Connections int       `json:"connections"`
	Uptime      string    `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type AttendanceResponse struct {
	ClassID   string `json:"classId"`
	StudentID string `json:"studentId"`
	Popups    int    `json:"popups"`
	Responded int    `json:"responded"`
	Rate      int    `json:"rate"`
}

const identityKey = "identity"

func NewServer(deps Deps, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		started: time.Now(),
		log:     logger.WithField("component", "api"),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	s.engine.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.WebSocket != nil {
		s.engine.GET("/ws", gin.WrapF(s.deps.WebSocket))
	}

	api := s.engine.Group("/api", s.authenticate())
	api.GET("/rooms", s.teacherOnly(), s.listRooms)
	api.GET("/rooms/:id/participants", s.listParticipants)
	api.GET("/classes/:id/scores", s.teacherOnly(), s.listScores)
	api.GET("/classes/:id/leaderboard", s.leaderboard)
	api.GET("/classes/:id/students/:studentId/attendance", s.attendance)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if err := s.deps.Scores.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
	}
	for _, room := range s.deps.Rooms.Stats() {
		resp.Rooms++
		resp.Connections += room.Connections
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.deps.Rooms.Stats()})
}

func (s *Server) listParticipants(c *gin.Context) {
	roomID := c.Param("id")
	if !types.IsValidRoomID(roomID) {
		s.sendError(c, http.StatusBadRequest, "invalid room ID")
		return
	}
	members := s.deps.Rooms.Members(roomID)
	if members == nil {
		members = []types.Participant{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "participants": members})
}

func (s *Server) listScores(c *gin.Context) {
	classID := c.Param("id")
	scores, err := s.deps.Scores.ListScores(c.Request.Context(), classID)
	if err != nil {
		s.log.WithField("class_id", classID).WithError(err).Error("list scores failed")
		s.sendError(c, http.StatusInternalServerError, "failed to load scores")
		return
	}
	c.JSON(http.StatusOK, gin.H{"classId": classID, "scores": scores})
}

func (s *Server) leaderboard(c *gin.Context) {
	if s.deps.Leaderboard == nil || !s.deps.Leaderboard.Enabled() {
		s.sendError(c, http.StatusNotFound, "leaderboard is not enabled")
		return
	}
	n := 10
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			s.sendError(c, http.StatusBadRequest, "n must be between 1 and 100")
			return
		}
		n = parsed
	}

	classID := c.Param("id")
	entries, err := s.deps.Leaderboard.Top(c.Request.Context(), classID, n)
	if err != nil {
		s.log.WithField("class_id", classID).WithError(err).Error("leaderboard read failed")
		s.sendError(c, http.StatusServiceUnavailable, "leaderboard unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"classId": classID, "entries": entries})
}

// attendance is visible to teachers and to the student it describes
func (s *Server) attendance(c *gin.Context) {
	identity := c.MustGet(identityKey).(types.Identity)
	classID, studentID := c.Param("id"), c.Param("studentId")
	if identity.IsStudent() && identity.UserID != studentID {
		s.sendError(c, http.StatusForbidden, "students may only view their own attendance")
		return
	}

	total, responded, err := s.deps.Scores.CountPopups(c.Request.Context(), classID, studentID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"class_id": classID, "user_id": studentID}).WithError(err).Error("attendance read failed")
		s.sendError(c, http.StatusInternalServerError, "failed to load attendance")
		return
	}
	rate := 0
	if total > 0 {
		rate = (100*responded + total/2) / total
	}
	c.JSON(http.StatusOK, AttendanceResponse{
		ClassID:   classID,
		StudentID: studentID,
		Popups:    total,
		Responded: responded,
		Rate:      rate,
	})
}

// authenticate requires a bearer token verified by the configured authenticator
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			s.sendError(c, http.StatusUnauthorized, "bearer token required")
			return
		}
		identity, err := s.deps.Auth.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, interfaces.ErrAuthRejected) {
				status = http.StatusInternalServerError
			}
			s.sendError(c, status, "invalid or expired token")
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func (s *Server) teacherOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity := c.MustGet(identityKey).(types.Identity); !identity.IsTeacher() {
			s.sendError(c, http.StatusForbidden, interfaces.ErrNotAuthorized.Error())
			return
		}
		c.Next()
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("http request")
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartcampus/internal/attendance"
	"smartcampus/internal/auth"
	"smartcampus/internal/config"
	"smartcampus/internal/httpmiddleware"
	"smartcampus/internal/makeup"
	"smartcampus/internal/notify"
	"smartcampus/internal/queue"
	"smartcampus/internal/schedule"
	"smartcampus/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Printf("warning: schema migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "smartcampus:notifications")
	}
	publisher := notify.NewPublisher(q)

	rosterRepo := attendance.NewRepository(db.Client)
	bookingRepo := schedule.NewBookingRepository(db.Client)
	roomRepo := schedule.NewRoomRepository(db.Client)
	sessionRepo := makeup.NewSessionRepository(db.Client)
	codeRepo := makeup.NewCodeRepository(db.Client)

	scheduler := schedule.NewService(bookingRepo, roomRepo, rosterRepo)
	reconciler := attendance.NewReconciler(rosterRepo, rosterRepo, publisher)
	codes := makeup.NewService(sessionRepo, codeRepo, rosterRepo, rosterRepo, scheduler, cfg.Location())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewClientLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status, label := http.StatusOK, "ok"
		if !redisHealthy || !dbHealthy {
			status, label = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(status, gin.H{"status": label, "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			FacultyID string `json:"faculty_id" binding:"required"`
			Name      string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.FacultyID, req.Name, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Self-service make-up attendance: the code itself is the credential.
	r.POST("/v1/makeup/attendance", func(c *gin.Context) {
		var req struct {
			Code       string `json:"code" binding:"required"`
			RollNumber string `json:"roll_number" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mark, student, err := codes.ConsumeForAttendance(c.Request.Context(), req.Code, req.RollNumber)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"student": student.Name,
			"date":    mark.Date.Format("2006-01-02"),
			"status":  mark.Status,
			"kind":    mark.Kind,
		})
	})

	r.GET("/v1/makeup/validate", func(c *gin.Context) {
		code, err := codes.Validate(c.Request.Context(), c.Query("code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": code.Token, "expires_at": code.ExpiresAt})
	})

	authGroup := r.Group("/v1", auth.RequireIdentity(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/rooms/availability", func(c *gin.Context) {
		roomID := c.Query("room_id")
		weekday, slot, err := parseSlotQuery(c)
		if err != nil || roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room_id, weekday, start and end are required"})
			return
		}
		available, err := scheduler.IsAvailable(c.Request.Context(), roomID, weekday, slot, c.Query("exclude"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"available": available})
	})

	authGroup.GET("/rooms/suggestions", func(c *gin.Context) {
		sectionID := c.Query("section_id")
		weekday, slot, err := parseSlotQuery(c)
		if err != nil || sectionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "section_id, weekday, start and end are required"})
			return
		}
		suggestions, err := scheduler.SuggestRooms(c.Request.Context(), sectionID, weekday, slot, c.Query("exclude"))
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]gin.H, 0, len(suggestions))
		for _, s := range suggestions {
			out = append(out, gin.H{
				"room_id":    s.Room.ID,
				"room":       s.Room.Name,
				"block":      s.Room.Block,
				"capacity":   s.Capacity,
				"group_size": s.GroupSize,
				"fits":       s.Fits,
				"reason":     s.Reason,
			})
		}
		c.JSON(http.StatusOK, gin.H{"suggestions": out})
	})

	authGroup.POST("/schedules", func(c *gin.Context) {
		var req struct {
			SectionID string `json:"section_id" binding:"required"`
			RoomID    string `json:"room_id" binding:"required"`
			Weekday   *int   `json:"weekday" binding:"required"`
			Start     string `json:"start" binding:"required"`
			End       string `json:"end" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slot, err := parseSlot(req.Start, req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		booking, err := scheduler.CreateBooking(c.Request.Context(), req.SectionID, req.RoomID, *req.Weekday, slot)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, bookingJSON(booking))
	})

	authGroup.PUT("/schedules/:id", func(c *gin.Context) {
		var req struct {
			RoomID  string `json:"room_id" binding:"required"`
			Weekday *int   `json:"weekday" binding:"required"`
			Start   string `json:"start" binding:"required"`
			End     string `json:"end" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slot, err := parseSlot(req.Start, req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		booking, err := scheduler.UpdateBooking(c.Request.Context(), c.Param("id"), req.RoomID, *req.Weekday, slot)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bookingJSON(booking))
	})

	authGroup.POST("/sections/:id/attendance", func(c *gin.Context) {
		var req struct {
			Date       string   `json:"date" binding:"required"`
			PresentIDs []string `json:"present_ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		marker := auth.Identity(c).Subject
		result, err := reconciler.Reconcile(c.Request.Context(), c.Param("id"), date, req.PresentIDs, marker)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"present": studentsJSON(result.Present),
			"absent":  studentsJSON(result.Absent),
		})
	})

	authGroup.GET("/students/:id/attendance", func(c *gin.Context) {
		summary, err := reconciler.StudentSummary(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"present":    summary.Present,
			"total":      summary.Total,
			"percentage": summary.Percentage,
		})
	})

	authGroup.POST("/makeup-sessions", func(c *gin.Context) {
		var req struct {
			SectionID string `json:"section_id" binding:"required"`
			Date      string `json:"date" binding:"required"`
			Start     string `json:"start" binding:"required"`
			End       string `json:"end" binding:"required"`
			RoomID    string `json:"room_id"`
			Notes     string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		slot, err := parseSlot(req.Start, req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		session, err := codes.ScheduleSession(c.Request.Context(), req.SectionID, date, slot, req.RoomID, auth.Identity(c).Subject, req.Notes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"id":         session.ID,
			"section_id": session.SectionID,
			"date":       session.Date.Format("2006-01-02"),
			"start":      session.Slot.Start.String(),
			"end":        session.Slot.End.String(),
			"room_id":    session.RoomID,
		})
	})

	authGroup.GET("/makeup-sessions/:id/code", func(c *gin.Context) {
		code, err := codes.GetOrCreateActive(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": code.Token, "expires_at": code.ExpiresAt})
	})

	authGroup.POST("/makeup-sessions/:id/code/regenerate", func(c *gin.Context) {
		code, err := codes.Regenerate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"token": code.Token, "expires_at": code.ExpiresAt})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// respondError maps the core's error taxonomy to HTTP statuses: validation
// 400, not found 404, conflict 409, exhaustion 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidInterval),
		errors.Is(err, schedule.ErrInvalidWeekday),
		errors.Is(err, makeup.ErrBlankCode),
		errors.Is(err, makeup.ErrBlankRoll):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, schedule.ErrRoomNotFound),
		errors.Is(err, schedule.ErrBookingNotFound),
		errors.Is(err, makeup.ErrCodeNotFound),
		errors.Is(err, makeup.ErrSessionNotFound),
		errors.Is(err, attendance.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, schedule.ErrRoomConflict),
		errors.Is(err, makeup.ErrCodeConsumed),
		errors.Is(err, makeup.ErrCodeExpired),
		errors.Is(err, makeup.ErrAlreadyRecorded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, makeup.ErrGenerationExhausted):
		log.Printf("code generation exhausted: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseSlot(start, end string) (schedule.Interval, error) {
	s, err := schedule.ParseClock(start)
	if err != nil {
		return schedule.Interval{}, err
	}
	e, err := schedule.ParseClock(end)
	if err != nil {
		return schedule.Interval{}, err
	}
	return schedule.NewInterval(s, e)
}

func parseSlotQuery(c *gin.Context) (int, schedule.Interval, error) {
	weekday, err := strconv.Atoi(c.Query("weekday"))
	if err != nil {
		return 0, schedule.Interval{}, err
	}
	slot, err := parseSlot(c.Query("start"), c.Query("end"))
	return weekday, slot, err
}

func bookingJSON(b schedule.Booking) gin.H {
	return gin.H{
		"id":         b.ID,
		"section_id": b.SectionID,
		"room_id":    b.RoomID,
		"weekday":    b.Weekday,
		"start":      b.Slot.Start.String(),
		"end":        b.Slot.End.String(),
	}
}

func studentsJSON(students []attendance.Student) []gin.H {
	out := make([]gin.H, 0, len(students))
	for _, st := range students {
		out = append(out, gin.H{"id": st.ID, "name": st.Name, "roll_number": st.RollNumber})
	}
	return out
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

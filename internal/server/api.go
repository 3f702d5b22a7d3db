package server

import (
	"errors"
	"net/http"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/auth"
	"github.com/borrowbox/borrowbox/internal/broker"
	"github.com/borrowbox/borrowbox/internal/chat"
	"github.com/borrowbox/borrowbox/internal/config"
	"github.com/borrowbox/borrowbox/internal/logging"
	"github.com/borrowbox/borrowbox/internal/middleware"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/borrowbox/borrowbox/internal/rating"
	"github.com/borrowbox/borrowbox/internal/request"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	db               *pgxpool.Pool
	authService      *auth.Service
	requestService   *request.Service
	ratingService    *rating.Service
	chatService      *chat.Service
	broker           *broker.Broker
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance. limiter may be nil to
// disable chat rate limiting (no Redis configured).
func NewAPIServer(cfg *config.Config, db *pgxpool.Pool, b *broker.Broker, limiter *chat.RateLimiter) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		db:               db,
		authService:      auth.NewService(db, &cfg.JWT),
		requestService:   request.NewService(db),
		ratingService:    rating.NewService(db),
		chatService:      chat.NewService(db, limiter),
		broker:           b,
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", monitoring.GinHandler())

	api := s.router.Group("/api")
	{
		// User routes
		users := api.Group("/users")
		{
			users.POST("/signup", s.handleSignup)
			users.POST("/login", s.handleLogin)
			users.POST("/refresh", s.handleRefresh)
			users.GET("/profile", s.jwtAuthenticator.JWTAuth(), s.handleGetProfile)
			users.PUT("/profile", s.jwtAuthenticator.JWTAuth(), s.handleUpdateProfile)
		}

		// Request lifecycle routes (all protected)
		requests := api.Group("/requests")
		requests.Use(s.jwtAuthenticator.JWTAuth())
		{
			requests.POST("", s.handleCreateRequest)
			requests.GET("", s.handleListRequests)
			requests.GET("/user", s.handleListUserRequests)
			requests.GET("/:id", s.handleGetRequest)
			requests.PUT("/:id/accept", s.handleAcceptRequest)
			requests.PUT("/:id/complete", s.handleCompleteRequest)
		}

		// Rating routes (all protected)
		ratings := api.Group("/ratings")
		ratings.Use(s.jwtAuthenticator.JWTAuth())
		{
			ratings.POST("", s.handleSubmitRating)
			ratings.GET("/user/:userId", s.handleListUserRatings)
		}

		// Chat routes (all protected)
		chats := api.Group("/chat")
		chats.Use(s.jwtAuthenticator.JWTAuth())
		{
			chats.POST("/send", s.handleSendMessage)
			chats.GET("/messages/:id", s.handleGetMessages)
		}
	}

	// Realtime endpoint; authenticates via token query parameter because
	// browser WebSocket clients cannot set an Authorization header.
	s.router.GET("/ws", s.handleWebSocket)
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "api",
	})
}

// respondOK sends a success envelope
func respondOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// respondError maps a service error onto the error envelope
func respondError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindPartialFailure {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(appErr.HTTPStatus(), gin.H{
		"success": false,
		"message": appErr.Message,
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserIDFromContext(c)
	if !ok {
		respondError(c, apperr.Unauthenticated("Authentication required"))
	}
	return id, ok
}

// handleSignup handles user registration
func (s *APIServer) handleSignup(c *gin.Context) {
	var req auth.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	resp, err := s.authService.Signup(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrEmailAlreadyExists) {
			respondError(c, apperr.Duplicate("Email already registered"))
		} else {
			respondError(c, err)
		}
		return
	}

	respondOK(c, http.StatusCreated, "Account created", resp)
}

// handleLogin handles user login
func (s *APIServer) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(c, apperr.Unauthenticated("Invalid email or password"))
		} else {
			respondError(c, err)
		}
		return
	}

	respondOK(c, http.StatusOK, "Logged in", resp)
}

// handleRefresh handles token refresh
func (s *APIServer) handleRefresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	tokens, err := s.authService.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
			respondError(c, apperr.Unauthenticated("Invalid or expired refresh token"))
		case errors.Is(err, auth.ErrUserNotFound):
			respondError(c, apperr.NotFound("User not found"))
		default:
			respondError(c, err)
		}
		return
	}

	respondOK(c, http.StatusOK, "Tokens refreshed", tokens)
}

// handleGetProfile returns the authenticated user's profile
func (s *APIServer) handleGetProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	profile, err := s.authService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondError(c, apperr.NotFound("User not found"))
		} else {
			respondError(c, err)
		}
		return
	}

	respondOK(c, http.StatusOK, "Profile", profile)
}

// handleUpdateProfile applies a partial profile update
func (s *APIServer) handleUpdateProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req auth.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	profile, err := s.authService.UpdateProfile(c.Request.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondError(c, apperr.NotFound("User not found"))
		} else {
			respondError(c, err)
		}
		return
	}

	respondOK(c, http.StatusOK, "Profile updated", profile)
}

// handleCreateRequest creates a new pending request
func (s *APIServer) handleCreateRequest(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req request.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	resp, err := s.requestService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, "Request created", resp)
}

// handleListRequests lists requests with optional filters and sorting
func (s *APIServer) handleListRequests(c *gin.Context) {
	filter := request.ListFilter{
		Type:      c.Query("type"),
		Status:    c.Query("status"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}

	resp, err := s.requestService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "Requests", resp)
}

// handleListUserRequests lists the caller's requests split by role
func (s *APIServer) handleListUserRequests(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	resp, err := s.requestService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "User requests", resp)
}

// handleGetRequest returns a single request
func (s *APIServer) handleGetRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("Invalid request id"))
		return
	}

	resp, err := s.requestService.Get(c.Request.Context(), requestID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "Request", resp)
}

// handleAcceptRequest assigns the caller as provider of a pending request
func (s *APIServer) handleAcceptRequest(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("Invalid request id"))
		return
	}

	resp, err := s.requestService.Accept(c.Request.Context(), requestID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "Request accepted", resp)
}

// handleCompleteRequest marks an accepted request completed
func (s *APIServer) handleCompleteRequest(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("Invalid request id"))
		return
	}

	resp, err := s.requestService.Complete(c.Request.Context(), requestID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "Request completed", resp)
}

// handleSubmitRating records a provider's rating of a completed request
func (s *APIServer) handleSubmitRating(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req rating.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	resp, err := s.ratingService.Rate(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, "Rating submitted", resp)
}

// handleListUserRatings lists the ratings received by a user
func (s *APIServer) handleListUserRatings(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		respondError(c, apperr.Validation("Invalid user id"))
		return
	}

	resp, err := s.ratingService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "Ratings", resp)
}

// handleSendMessage persists a chat message. Realtime delivery is announced
// by the sender over its websocket after this call returns; the store write
// here is the authoritative one.
func (s *APIServer) handleSendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}

	view, err := s.chatService.Send(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, "Message sent", view)
}

// handleGetMessages returns a room's message history
func (s *APIServer) handleGetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("Invalid request id"))
		return
	}

	m, err := s.chatService.GetMembership(c.Request.Context(), requestID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !m.Participant(userID) {
		respondError(c, apperr.Forbidden("Only participants can view this chat"))
		return
	}

	messages, err := s.chatService.History(c.Request.Context(), requestID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "Messages", messages)
}

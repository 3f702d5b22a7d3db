package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/config"
	"github.com/borrowbox/borrowbox/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testToken(secret, userID, subject string, expiry time.Duration) string {
	now := time.Now()
	claims := &middleware.Claims{
		UserID: userID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "borrowbox",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(secret))
	return tokenString
}

// TestProtectedRoutes_RequireAuth verifies the route groups sit behind the
// JWT middleware and speak the standard envelope on rejection.
func TestProtectedRoutes_RequireAuth(t *testing.T) {
	secret := "test-secret-key-for-jwt-testing-32chars"
	cfg := &config.JWTConfig{
		Secret:             secret,
		Issuer:             "borrowbox",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	}
	authenticator := middleware.NewJWTAuthenticator(cfg)

	router := gin.New()
	protected := router.Group("/api")
	protected.Use(authenticator.JWTAuth())
	{
		protected.GET("/requests", func(c *gin.Context) {
			userID, ok := middleware.UserIDFromContext(c)
			if !ok {
				respondError(c, apperr.Unauthenticated("Authentication required"))
				return
			}
			respondOK(c, http.StatusOK, "Requests", gin.H{"user_id": userID.String()})
		})
	}

	t.Run("no token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/requests", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", w.Code)
		}

		var body struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid envelope: %v", err)
		}
		if body.Success {
			t.Fatal("error envelope should have success=false")
		}
		if body.Message == "" {
			t.Fatal("error envelope should carry a message")
		}
	})

	t.Run("valid token", func(t *testing.T) {
		userID := uuid.NewString()
		token := testToken(secret, userID, "access", 15*time.Minute)

		req := httptest.NewRequest("GET", "/api/requests", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var body struct {
			Success bool `json:"success"`
			Data    struct {
				UserID string `json:"user_id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid envelope: %v", err)
		}
		if !body.Success {
			t.Fatal("success envelope should have success=true")
		}
		if body.Data.UserID != userID {
			t.Fatalf("expected user id %s, got %s", userID, body.Data.UserID)
		}
	})
}

// TestRespondError_StatusMapping checks the error taxonomy maps onto the
// documented status codes.
func TestRespondError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperr.Validation("bad input"), http.StatusBadRequest},
		{"duplicate", apperr.Duplicate("already rated"), http.StatusBadRequest},
		{"unauthenticated", apperr.Unauthenticated("no token"), http.StatusUnauthorized},
		{"forbidden", apperr.Forbidden("not yours"), http.StatusForbidden},
		{"not found", apperr.NotFound("missing"), http.StatusNotFound},
		{"conflict", apperr.Conflict("already accepted"), http.StatusConflict},
		{"internal", apperr.Internal(nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/boom", func(c *gin.Context) {
				respondError(c, tt.err)
			})

			req := httptest.NewRequest("GET", "/boom", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/config"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service handles signup, login and profile operations
type Service struct {
	db     *pgxpool.Pool
	config *config.JWTConfig
}

// NewService creates a new auth service
func NewService(db *pgxpool.Pool, jwtCfg *config.JWTConfig) *Service {
	return &Service{db: db, config: jwtCfg}
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// SignupRequest represents a signup request
type SignupRequest struct {
	Name        string        `json:"name" binding:"required,max=50"`
	Email       string        `json:"email" binding:"required,email"`
	Password    string        `json:"password" binding:"required,min=6"`
	Gender      models.Gender `json:"gender" binding:"required,oneof=male female"`
	PhoneNumber string        `json:"phone_number" binding:"required"`
	Area        string        `json:"area" binding:"required"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// UpdateProfileRequest represents a profile update; nil fields are left
// untouched.
type UpdateProfileRequest struct {
	Name        *string `json:"name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Area        *string `json:"area,omitempty"`
}

// UserResponse represents a user response (without sensitive data)
type UserResponse struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	Gender       models.Gender `json:"gender"`
	PhoneNumber  string        `json:"phone_number"`
	Area         string        `json:"area"`
	Rating       string        `json:"rating"`
	TotalRatings int           `json:"total_ratings"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AuthResponse is returned by signup and login
type AuthResponse struct {
	User   UserResponse `json:"user"`
	Tokens TokenPair    `json:"tokens"`
}

var phonePattern = regexp.MustCompile(`^\d{10}$`)

const userColumns = `id, name, email, password_hash, gender, phone_number, area,
	rating, total_ratings, total_rating_sum, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Gender,
		&user.PhoneNumber, &user.Area, &user.Rating, &user.TotalRatings,
		&user.TotalRatingSum, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Signup creates a new user account
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*AuthResponse, error) {
	if !phonePattern.MatchString(req.PhoneNumber) {
		return nil, apperr.Validation("Please enter a valid 10-digit phone number")
	}
	if !models.ValidArea(req.Area) {
		return nil, apperr.Validation("Unknown area: %s", req.Area)
	}

	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.Email).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, ErrEmailAlreadyExists
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, gender, phone_number, area)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		req.Name, req.Email, passwordHash, req.Gender, req.PhoneNumber, req.Area,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	tokens, err := s.generateTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return &AuthResponse{User: toUserResponse(user), Tokens: *tokens}, nil
}

// Login authenticates a user and returns tokens
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := scanUser(s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", req.Email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Generic error to not reveal whether the email exists
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.generateTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return &AuthResponse{User: toUserResponse(user), Tokens: *tokens}, nil
}

// RefreshTokens generates new tokens from a valid refresh token
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.validateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject != "refresh" {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.generateTokenPair(user)
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetProfile returns the profile for a user id
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(user)
	return &resp, nil
}

// UpdateProfile applies a partial profile update and returns the new profile
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req *UpdateProfileRequest) (*UserResponse, error) {
	if req.Name != nil && (*req.Name == "" || len(*req.Name) > 50) {
		return nil, apperr.Validation("Name must be 1-50 characters")
	}
	if req.PhoneNumber != nil && !phonePattern.MatchString(*req.PhoneNumber) {
		return nil, apperr.Validation("Please enter a valid 10-digit phone number")
	}
	if req.Area != nil && !models.ValidArea(*req.Area) {
		return nil, apperr.Validation("Unknown area: %s", *req.Area)
	}

	user, err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			phone_number = COALESCE($3, phone_number),
			area = COALESCE($4, area),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, req.Name, req.PhoneNumber, req.Area,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	resp := toUserResponse(user)
	return &resp, nil
}

// ValidateAccessToken validates an access token and returns claims
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.validateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != "access" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateTokenPair(user *models.User) (*TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(s.config.AccessTokenExpiry)

	accessToken, err := s.signToken(user, "access", now, accessExpiry)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.signToken(user, "refresh", now, now.Add(s.config.RefreshTokenExpiry))
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
		TokenType:    "Bearer",
	}, nil
}

func (s *Service) signToken(user *models.User, subject string, issuedAt, expiresAt time.Time) (string, error) {
	claims := &Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func toUserResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		Gender:       user.Gender,
		PhoneNumber:  user.PhoneNumber,
		Area:         user.Area,
		Rating:       user.Rating.String(),
		TotalRatings: user.TotalRatings,
		CreatedAt:    user.CreatedAt,
	}
}

// Package rating implements the rate side-transition of the request
// lifecycle: a provider scores the requestor of a completed request exactly
// once, and the rated user's running average is advanced by an atomic
// increment rather than a read-modify-write.
package rating

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const uniqueViolation = "23505"

// Service handles rating operations
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new rating service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// RateRequest represents a rating submission
type RateRequest struct {
	RequestID uuid.UUID `json:"request_id" binding:"required"`
	Rating    int       `json:"rating" binding:"required,min=1,max=5"`
	Comment   *string   `json:"comment,omitempty"`
}

// RequestSummary identifies the rated exchange in rating listings
type RequestSummary struct {
	ID       uuid.UUID          `json:"id"`
	Type     models.RequestType `json:"type"`
	ItemName *string            `json:"item_name,omitempty"`
	Topic    *string            `json:"topic,omitempty"`
}

// Response is a rating with its rater and request context resolved
type Response struct {
	models.Rating
	RaterName string         `json:"rater_name"`
	Request   RequestSummary `json:"request"`
}

// Rate creates a rating for a completed request and advances the rated
// user's running average. The two writes are one logical unit: if the
// average update fails after the rating was persisted, the error surfaces
// as a partial failure carrying both ids so the update can be retried.
func (s *Service) Rate(ctx context.Context, raterID uuid.UUID, req *RateRequest) (*models.Rating, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.Validation("Rating must be between 1 and 5")
	}
	if req.Comment != nil && utf8.RuneCountInString(*req.Comment) > models.MaxRatingCommentLen {
		return nil, apperr.Validation("Comment cannot exceed %d characters", models.MaxRatingCommentLen)
	}

	var requestorID uuid.UUID
	var providerID *uuid.UUID
	var status models.RequestStatus
	err := s.db.QueryRow(ctx,
		"SELECT requestor_id, provider_id, status FROM requests WHERE id = $1",
		req.RequestID,
	).Scan(&requestorID, &providerID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Request not found")
		}
		return nil, fmt.Errorf("failed to fetch request: %w", err)
	}

	if status != models.RequestStatusCompleted {
		return nil, apperr.Conflict("Can only rate completed requests")
	}
	if providerID == nil || *providerID != raterID {
		return nil, apperr.Forbidden("Only the provider can rate this request")
	}

	var rating models.Rating
	err = s.db.QueryRow(ctx, `
		INSERT INTO ratings (request_id, rated_user_id, rater_user_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, request_id, rated_user_id, rater_user_id, rating, comment, created_at
	`, req.RequestID, requestorID, raterID, req.Rating, req.Comment).Scan(
		&rating.ID, &rating.RequestID, &rating.RatedUserID, &rating.RaterUserID,
		&rating.Rating, &rating.Comment, &rating.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperr.Duplicate("This request has already been rated")
		}
		return nil, fmt.Errorf("failed to create rating: %w", err)
	}

	// Single-statement increment so concurrent ratings of the same user
	// from different requests never lose updates.
	_, err = s.db.Exec(ctx, `
		UPDATE users SET
			total_ratings = total_ratings + 1,
			total_rating_sum = total_rating_sum + $2,
			rating = (total_rating_sum + $2)::numeric / (total_ratings + 1),
			updated_at = now()
		WHERE id = $1
	`, requestorID, req.Rating)
	if err != nil {
		log.Error().
			Err(err).
			Str("rating_id", rating.ID.String()).
			Str("request_id", req.RequestID.String()).
			Str("rated_user_id", requestorID.String()).
			Int("rating", req.Rating).
			Msg("Rating persisted but user average update failed")
		return nil, apperr.PartialFailure("Rating recorded but user score update failed", err)
	}

	monitoring.RatingSubmitted()
	return &rating, nil
}

// ListForUser returns the ratings received by a user, newest first
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Response, error) {
	rows, err := s.db.Query(ctx, `
		SELECT rt.id, rt.request_id, rt.rated_user_id, rt.rater_user_id, rt.rating, rt.comment, rt.created_at,
			u.name, r.id, r.type, r.item_name, r.topic
		FROM ratings rt
		JOIN users u ON u.id = rt.rater_user_id
		JOIN requests r ON r.id = rt.request_id
		WHERE rt.rated_user_id = $1
		ORDER BY rt.created_at DESC, rt.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	responses := make([]Response, 0)
	for rows.Next() {
		var resp Response
		err := rows.Scan(
			&resp.ID, &resp.RequestID, &resp.RatedUserID, &resp.RaterUserID,
			&resp.Rating.Rating, &resp.Comment, &resp.CreatedAt,
			&resp.RaterName, &resp.Request.ID, &resp.Request.Type,
			&resp.Request.ItemName, &resp.Request.Topic,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratings: %w", err)
	}
	return responses, nil
}

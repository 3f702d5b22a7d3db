// Package chat owns the durable message store operations. Messages are
// persisted here first; realtime fan-out is announced afterwards and is
// never the source of truth.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service handles chat message persistence and history
type Service struct {
	db      *pgxpool.Pool
	limiter *RateLimiter
}

// NewService creates a new chat service. limiter may be nil, in which case
// sends are not rate limited.
func NewService(db *pgxpool.Pool, limiter *RateLimiter) *Service {
	return &Service{db: db, limiter: limiter}
}

// SendRequest represents a message submission
type SendRequest struct {
	RequestID uuid.UUID `json:"request_id" binding:"required"`
	Message   string    `json:"message" binding:"required"`
}

// Membership describes who may participate in a request's room
type Membership struct {
	RequestorID uuid.UUID
	ProviderID  *uuid.UUID
	Status      models.RequestStatus
}

// Participant reports whether userID is the requestor or provider
func (m *Membership) Participant(userID uuid.UUID) bool {
	if m.RequestorID == userID {
		return true
	}
	return m.ProviderID != nil && *m.ProviderID == userID
}

// GetMembership loads the participant set of a request's room
func (s *Service) GetMembership(ctx context.Context, requestID uuid.UUID) (*Membership, error) {
	var m Membership
	err := s.db.QueryRow(ctx,
		"SELECT requestor_id, provider_id, status FROM requests WHERE id = $1",
		requestID,
	).Scan(&m.RequestorID, &m.ProviderID, &m.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Request not found")
		}
		return nil, fmt.Errorf("failed to fetch request: %w", err)
	}
	return &m, nil
}

// Send persists a message to a request's room. The sender must be a
// participant and the request must have been accepted.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, req *SendRequest) (*models.ChatMessageView, error) {
	if req.Message == "" {
		return nil, apperr.Validation("Message cannot be empty")
	}

	m, err := s.GetMembership(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if !m.Participant(senderID) {
		return nil, apperr.Forbidden("Only participants can chat about this request")
	}
	if m.Status == models.RequestStatusPending {
		return nil, apperr.Conflict("Chat opens once the request is accepted")
	}

	if s.limiter != nil {
		result, err := s.limiter.Check(ctx, senderID.String())
		if err == nil && !result.Allowed {
			return nil, apperr.Validation("Too many messages, slow down")
		}
	}

	var view models.ChatMessageView
	err = s.db.QueryRow(ctx, `
		INSERT INTO chat_messages (request_id, sender_id, message)
		VALUES ($1, $2, $3)
		RETURNING id, request_id, sender_id,
			(SELECT name FROM users WHERE id = $2), message, created_at
	`, req.RequestID, senderID, req.Message).Scan(
		&view.ID, &view.RequestID, &view.SenderID, &view.SenderName,
		&view.Message, &view.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	monitoring.ChatMessagePersisted()
	return &view, nil
}

// History returns a room's messages in creation order with sender names
// resolved
func (s *Service) History(ctx context.Context, requestID uuid.UUID) ([]models.ChatMessageView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.id, m.request_id, m.sender_id, u.name, m.message, m.created_at
		FROM chat_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.request_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessageView, 0)
	for rows.Next() {
		var view models.ChatMessageView
		err := rows.Scan(&view.ID, &view.RequestID, &view.SenderID,
			&view.SenderName, &view.Message, &view.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// Package request implements the request lifecycle engine: creation,
// role-gated accept/complete transitions, and the list queries backing the
// marketplace views. Status moves pending -> accepted -> completed and the
// transitions are applied as conditional updates so concurrent racers lose
// with a conflict instead of overwriting each other.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service handles request lifecycle operations
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new request service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// CreateRequest represents a request creation payload
type CreateRequest struct {
	Type        models.RequestType      `json:"type" binding:"required"`
	Item        *models.ItemDetails     `json:"item,omitempty"`
	Guidance    *models.GuidanceDetails `json:"guidance,omitempty"`
	Description *string                 `json:"description,omitempty"`
}

// Response is a request with its participant references resolved
type Response struct {
	models.Request
	Requestor models.UserRef  `json:"requestor"`
	Provider  *models.UserRef `json:"provider,omitempty"`
}

// ListFilter narrows and orders the marketplace listing
type ListFilter struct {
	Type      string
	Status    string
	SortBy    string
	SortOrder string
}

// UserRequests splits a user's requests by the role they hold in each
type UserRequests struct {
	Requested []Response `json:"requested"`
	Provided  []Response `json:"provided"`
}

// Create validates the payload and persists a new pending request
func (s *Service) Create(ctx context.Context, requestorID uuid.UUID, req *CreateRequest) (*Response, error) {
	r := &models.Request{
		Type:        req.Type,
		RequestorID: requestorID,
		Status:      models.RequestStatusPending,
		Item:        req.Item,
		Guidance:    req.Guidance,
		Description: req.Description,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var itemName *string
	var quantity *int
	var neededBy *time.Time
	var topic, timeNeeded *string
	if r.Item != nil {
		itemName = &r.Item.ItemName
		quantity = &r.Item.Quantity
		neededBy = &r.Item.NeededBy
	}
	if r.Guidance != nil {
		topic = &r.Guidance.Topic
		timeNeeded = &r.Guidance.TimeNeeded
	}

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO requests (type, requestor_id, status, item_name, quantity, needed_by, topic, time_needed, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, r.Type, requestorID, r.Status, itemName, quantity, neededBy, topic, timeNeeded, r.Description).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	monitoring.RequestCreated(string(r.Type))
	return s.Get(ctx, id)
}

// Accept assigns the caller as provider of a pending request. The status
// transition is a conditional update; under concurrent accept attempts at
// most one caller wins and the rest get a conflict.
func (s *Service) Accept(ctx context.Context, requestID, actorID uuid.UUID) (*Response, error) {
	current, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := acceptGate(current.RequestorID, actorID, current.Status); err != nil {
		return nil, err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE requests
		SET status = $3, provider_id = $2, updated_at = now()
		WHERE id = $1 AND status = $4
	`, requestID, actorID, models.RequestStatusAccepted, models.RequestStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to accept request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race to another accepter
		return nil, apperr.Conflict("Request is no longer available")
	}

	monitoring.RequestAccepted()
	return s.Get(ctx, requestID)
}

// Complete marks an accepted request as completed. Only the assigned
// provider may complete, and only from the accepted status.
func (s *Service) Complete(ctx context.Context, requestID, actorID uuid.UUID) (*Response, error) {
	current, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := completeGate(current.ProviderID, actorID, current.Status); err != nil {
		return nil, err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE requests
		SET status = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4 AND provider_id = $2
	`, requestID, actorID, models.RequestStatusCompleted, models.RequestStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("failed to complete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Conflict("Request must be accepted before completion")
	}

	monitoring.RequestCompleted()
	return s.Get(ctx, requestID)
}

// acceptGate holds the role and status preconditions of the accept
// transition. The storage-level conditional update still decides races.
func acceptGate(requestorID, actorID uuid.UUID, status models.RequestStatus) error {
	if requestorID == actorID {
		return apperr.Forbidden("You cannot accept your own request")
	}
	if status != models.RequestStatusPending {
		return apperr.Conflict("Request is no longer available")
	}
	return nil
}

// completeGate holds the role and status preconditions of the complete
// transition.
func completeGate(providerID *uuid.UUID, actorID uuid.UUID, status models.RequestStatus) error {
	if providerID == nil || *providerID != actorID {
		return apperr.Forbidden("Only the provider can complete this request")
	}
	if status != models.RequestStatusAccepted {
		return apperr.Conflict("Request must be accepted before completion")
	}
	return nil
}

const selectRequest = `
	SELECT r.id, r.type, r.requestor_id, r.provider_id, r.status,
		r.item_name, r.quantity, r.needed_by, r.topic, r.time_needed,
		r.description, r.completed_at, r.created_at, r.updated_at,
		ru.id, ru.name, ru.rating, ru.area,
		pu.id, pu.name, pu.rating, pu.area
	FROM requests r
	JOIN users ru ON ru.id = r.requestor_id
	LEFT JOIN users pu ON pu.id = r.provider_id`

func scanResponse(row pgx.Row) (*Response, error) {
	var resp Response
	var itemName *string
	var quantity *int
	var neededBy *time.Time
	var topic, timeNeeded *string
	var provider struct {
		ID     *uuid.UUID
		Name   *string
		Rating decimal.NullDecimal
		Area   *string
	}

	err := row.Scan(
		&resp.ID, &resp.Type, &resp.RequestorID, &resp.ProviderID, &resp.Status,
		&itemName, &quantity, &neededBy, &topic, &timeNeeded,
		&resp.Description, &resp.CompletedAt, &resp.CreatedAt, &resp.UpdatedAt,
		&resp.Requestor.ID, &resp.Requestor.Name, &resp.Requestor.Rating, &resp.Requestor.Area,
		&provider.ID, &provider.Name, &provider.Rating, &provider.Area,
	)
	if err != nil {
		return nil, err
	}

	if resp.Type == models.RequestTypeItem && itemName != nil && quantity != nil && neededBy != nil {
		resp.Item = &models.ItemDetails{ItemName: *itemName, Quantity: *quantity, NeededBy: *neededBy}
	}
	if resp.Type == models.RequestTypeGuidance && topic != nil && timeNeeded != nil {
		resp.Guidance = &models.GuidanceDetails{Topic: *topic, TimeNeeded: *timeNeeded}
	}

	if provider.ID != nil {
		resp.Provider = &models.UserRef{
			ID:     *provider.ID,
			Name:   *provider.Name,
			Rating: provider.Rating.Decimal,
			Area:   *provider.Area,
		}
	}

	return &resp, nil
}

// Get returns a single request with participants resolved
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*Response, error) {
	resp, err := scanResponse(s.db.QueryRow(ctx, selectRequest+" WHERE r.id = $1", requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Request not found")
		}
		return nil, fmt.Errorf("failed to fetch request: %w", err)
	}
	return resp, nil
}

// sortColumns whitelists the sortable keys. Text sorts are case-insensitive;
// r.id breaks ties so the ordering is stable across identical keys.
var sortColumns = map[string]string{
	"createdAt": "r.created_at",
	"rating":    "ru.rating",
	"area":      "LOWER(ru.area)",
}

// List returns requests matching the filter, ordered per the sort options
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Response, error) {
	query := selectRequest + " WHERE 1=1"
	args := []any{}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND r.type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND r.status = $%d", len(args))
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "r.created_at"
	}
	direction := "DESC"
	if filter.SortOrder == "asc" {
		direction = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, r.id %s", column, direction, direction)

	return s.queryResponses(ctx, query, args...)
}

// ListForUser returns the user's requests split into those they created and
// those they provide
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) (*UserRequests, error) {
	requested, err := s.queryResponses(ctx,
		selectRequest+" WHERE r.requestor_id = $1 ORDER BY r.created_at DESC, r.id DESC", userID)
	if err != nil {
		return nil, err
	}

	provided, err := s.queryResponses(ctx,
		selectRequest+" WHERE r.provider_id = $1 ORDER BY r.created_at DESC, r.id DESC", userID)
	if err != nil {
		return nil, err
	}

	return &UserRequests{Requested: requested, Provided: provided}, nil
}

func (s *Service) queryResponses(ctx context.Context, query string, args ...any) ([]Response, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	responses := make([]Response, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		responses = append(responses, *resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	return responses, nil
}

package models

import (
	"time"
	"unicode/utf8"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/google/uuid"
)

// RequestType tags the two request variants
type RequestType string

const (
	RequestTypeItem     RequestType = "item"
	RequestTypeGuidance RequestType = "guidance"
)

// RequestStatus values form the lifecycle state machine
// pending -> accepted -> completed.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusCompleted RequestStatus = "completed"
)

// MaxDescriptionLen bounds the optional free-text description.
const MaxDescriptionLen = 500

// ItemDetails is the payload of an item request.
type ItemDetails struct {
	ItemName string    `json:"item_name"`
	Quantity int       `json:"quantity"`
	NeededBy time.Time `json:"needed_by"`
}

// GuidanceDetails is the payload of a guidance request.
type GuidanceDetails struct {
	Topic      string `json:"topic"`
	TimeNeeded string `json:"time_needed"`
}

// Request is a lending/help transaction. Exactly one of Item or Guidance is
// set, matching Type. Provider is non-nil iff status is accepted or
// completed; CompletedAt is non-nil iff status is completed.
type Request struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	Type        RequestType      `json:"type" db:"type"`
	RequestorID uuid.UUID        `json:"requestor_id" db:"requestor_id"`
	ProviderID  *uuid.UUID       `json:"provider_id,omitempty" db:"provider_id"`
	Status      RequestStatus    `json:"status" db:"status"`
	Item        *ItemDetails     `json:"item,omitempty"`
	Guidance    *GuidanceDetails `json:"guidance,omitempty"`
	Description *string          `json:"description,omitempty" db:"description"`
	CompletedAt *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// Validate checks the tagged union: the variant matching Type must be
// present and well-formed, the other absent.
func (r *Request) Validate() error {
	if r.Description != nil && utf8.RuneCountInString(*r.Description) > MaxDescriptionLen {
		return apperr.Validation("Description cannot exceed %d characters", MaxDescriptionLen)
	}

	switch r.Type {
	case RequestTypeItem:
		if r.Guidance != nil {
			return apperr.Validation("Item requests cannot carry guidance fields")
		}
		if r.Item == nil {
			return apperr.Validation("Item details are required for item requests")
		}
		return r.Item.validate()
	case RequestTypeGuidance:
		if r.Item != nil {
			return apperr.Validation("Guidance requests cannot carry item fields")
		}
		if r.Guidance == nil {
			return apperr.Validation("Guidance details are required for guidance requests")
		}
		return r.Guidance.validate()
	default:
		return apperr.Validation("Request type must be item or guidance")
	}
}

func (d *ItemDetails) validate() error {
	if d.ItemName == "" {
		return apperr.Validation("Item name is required")
	}
	if d.Quantity < 1 {
		return apperr.Validation("Quantity must be at least 1")
	}
	if d.NeededBy.IsZero() {
		return apperr.Validation("Requested time is required")
	}
	return nil
}

func (d *GuidanceDetails) validate() error {
	if d.Topic == "" {
		return apperr.Validation("Topic is required")
	}
	if d.TimeNeeded == "" {
		return apperr.Validation("Time needed is required")
	}
	return nil
}

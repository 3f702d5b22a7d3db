package request

import (
	"testing"

	"github.com/borrowbox/borrowbox/internal/apperr"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/google/uuid"
)

func TestAcceptGate(t *testing.T) {
	requestor := uuid.New()
	provider := uuid.New()

	tests := []struct {
		name     string
		actor    uuid.UUID
		status   models.RequestStatus
		wantKind apperr.Kind
		wantErr  bool
	}{
		{
			name:   "stranger accepts pending request",
			actor:  provider,
			status: models.RequestStatusPending,
		},
		{
			name:     "requestor accepts own request",
			actor:    requestor,
			status:   models.RequestStatusPending,
			wantErr:  true,
			wantKind: apperr.KindForbidden,
		},
		{
			name:     "accept already accepted request",
			actor:    provider,
			status:   models.RequestStatusAccepted,
			wantErr:  true,
			wantKind: apperr.KindConflict,
		},
		{
			name:     "accept completed request",
			actor:    provider,
			status:   models.RequestStatusCompleted,
			wantErr:  true,
			wantKind: apperr.KindConflict,
		},
		{
			// The role gate outranks the status gate: a requestor poking at
			// their own accepted request sees forbidden, not conflict.
			name:     "requestor accepts own accepted request",
			actor:    requestor,
			status:   models.RequestStatusAccepted,
			wantErr:  true,
			wantKind: apperr.KindForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := acceptGate(requestor, tt.actor, tt.status)
			checkGateResult(t, err, tt.wantErr, tt.wantKind)
		})
	}
}

func TestCompleteGate(t *testing.T) {
	provider := uuid.New()
	stranger := uuid.New()

	tests := []struct {
		name     string
		provider *uuid.UUID
		actor    uuid.UUID
		status   models.RequestStatus
		wantKind apperr.Kind
		wantErr  bool
	}{
		{
			name:     "provider completes accepted request",
			provider: &provider,
			actor:    provider,
			status:   models.RequestStatusAccepted,
		},
		{
			name:     "stranger completes accepted request",
			provider: &provider,
			actor:    stranger,
			status:   models.RequestStatusAccepted,
			wantErr:  true,
			wantKind: apperr.KindForbidden,
		},
		{
			name:     "complete pending request without provider",
			provider: nil,
			actor:    provider,
			status:   models.RequestStatusPending,
			wantErr:  true,
			wantKind: apperr.KindForbidden,
		},
		{
			name:     "provider completes already completed request",
			provider: &provider,
			actor:    provider,
			status:   models.RequestStatusCompleted,
			wantErr:  true,
			wantKind: apperr.KindConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := completeGate(tt.provider, tt.actor, tt.status)
			checkGateResult(t, err, tt.wantErr, tt.wantKind)
		})
	}
}

func checkGateResult(t *testing.T, err error, wantErr bool, wantKind apperr.Kind) {
	t.Helper()
	if !wantErr {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperr.IsKind(err, wantKind) {
		t.Fatalf("expected kind %v, got %v", wantKind, err)
	}
}

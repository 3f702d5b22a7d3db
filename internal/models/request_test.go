package models

import (
	"strings"
	"testing"
	"time"

	"github.com/borrowbox/borrowbox/internal/apperr"
)

func validItem() *ItemDetails {
	return &ItemDetails{
		ItemName: "Ladder",
		Quantity: 1,
		NeededBy: time.Now().Add(24 * time.Hour),
	}
}

func validGuidance() *GuidanceDetails {
	return &GuidanceDetails{
		Topic:      "Calculus homework",
		TimeNeeded: "2 hours",
	}
}

func TestRequestValidate(t *testing.T) {
	longDescription := strings.Repeat("x", MaxDescriptionLen+1)
	// Limits count characters, not bytes: 500 two-byte runes are in bounds
	multiByteDescription := strings.Repeat("ø", MaxDescriptionLen)
	longMultiByteDescription := strings.Repeat("ø", MaxDescriptionLen+1)

	tests := []struct {
		name    string
		request Request
		wantErr bool
	}{
		{
			name:    "valid item request",
			request: Request{Type: RequestTypeItem, Item: validItem()},
		},
		{
			name:    "valid guidance request",
			request: Request{Type: RequestTypeGuidance, Guidance: validGuidance()},
		},
		{
			name:    "unknown type",
			request: Request{Type: "loan", Item: validItem()},
			wantErr: true,
		},
		{
			name:    "item request missing item details",
			request: Request{Type: RequestTypeItem},
			wantErr: true,
		},
		{
			name:    "guidance request missing guidance details",
			request: Request{Type: RequestTypeGuidance},
			wantErr: true,
		},
		{
			name:    "item request carrying guidance fields",
			request: Request{Type: RequestTypeItem, Item: validItem(), Guidance: validGuidance()},
			wantErr: true,
		},
		{
			name:    "guidance request carrying item fields",
			request: Request{Type: RequestTypeGuidance, Guidance: validGuidance(), Item: validItem()},
			wantErr: true,
		},
		{
			name: "zero quantity",
			request: Request{Type: RequestTypeItem, Item: &ItemDetails{
				ItemName: "Ladder", Quantity: 0, NeededBy: time.Now(),
			}},
			wantErr: true,
		},
		{
			name: "empty item name",
			request: Request{Type: RequestTypeItem, Item: &ItemDetails{
				Quantity: 1, NeededBy: time.Now(),
			}},
			wantErr: true,
		},
		{
			name: "missing needed-by time",
			request: Request{Type: RequestTypeItem, Item: &ItemDetails{
				ItemName: "Ladder", Quantity: 1,
			}},
			wantErr: true,
		},
		{
			name: "empty topic",
			request: Request{Type: RequestTypeGuidance, Guidance: &GuidanceDetails{
				TimeNeeded: "1 hour",
			}},
			wantErr: true,
		},
		{
			name:    "description over limit",
			request: Request{Type: RequestTypeItem, Item: validItem(), Description: &longDescription},
			wantErr: true,
		},
		{
			name:    "multi-byte description at limit",
			request: Request{Type: RequestTypeItem, Item: validItem(), Description: &multiByteDescription},
		},
		{
			name:    "multi-byte description over limit",
			request: Request{Type: RequestTypeItem, Item: validItem(), Description: &longMultiByteDescription},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !apperr.IsKind(err, apperr.KindValidation) {
					t.Fatalf("expected validation kind, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidArea(t *testing.T) {
	for _, area := range Areas {
		if !ValidArea(area) {
			t.Errorf("area %q should be valid", area)
		}
	}
	if ValidArea("Atlantis") {
		t.Error("unknown area should be invalid")
	}
	if ValidArea("") {
		t.Error("empty area should be invalid")
	}
}

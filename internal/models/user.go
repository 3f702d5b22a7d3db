package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gender values accepted at signup
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Areas is the set of neighborhoods users may register under.
var Areas = []string{
	"Turing",
	"Turing Extension",
	"Edison",
	"Architecture",
	"Rockefeller",
	"Rockefeller Extension",
	"Martin Luther",
	"Darwin",
	"Newton",
	"Tesla",
	"Galileo",
	"Fleming",
}

// ValidArea reports whether area is one of the known neighborhoods.
func ValidArea(area string) bool {
	for _, a := range Areas {
		if a == area {
			return true
		}
	}
	return false
}

// User represents a registered user. Rating is a running average maintained
// by atomic increments of total_ratings and total_rating_sum; it equals
// total_rating_sum / total_ratings whenever total_ratings > 0, else 0.
type User struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Email          string          `json:"email" db:"email"`
	PasswordHash   string          `json:"-" db:"password_hash"`
	Gender         Gender          `json:"gender" db:"gender"`
	PhoneNumber    string          `json:"phone_number" db:"phone_number"`
	Area           string          `json:"area" db:"area"`
	Rating         decimal.Decimal `json:"rating" db:"rating"`
	TotalRatings   int             `json:"total_ratings" db:"total_ratings"`
	TotalRatingSum int             `json:"total_rating_sum" db:"total_rating_sum"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// UserRef is the subset of user fields embedded in request and rating
// responses.
type UserRef struct {
	ID     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Rating decimal.Decimal `json:"rating"`
	Area   string          `json:"area"`
}

// Ref returns the embeddable reference for u.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Rating: u.Rating, Area: u.Area}
}

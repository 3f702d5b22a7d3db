package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxRatingCommentLen bounds the optional rating comment.
const MaxRatingCommentLen = 200

// Rating is a provider's score of a requestor after completion. At most one
// rating exists per request, enforced by a unique index on request_id.
type Rating struct {
	ID          uuid.UUID `json:"id" db:"id"`
	RequestID   uuid.UUID `json:"request_id" db:"request_id"`
	RatedUserID uuid.UUID `json:"rated_user_id" db:"rated_user_id"`
	RaterUserID uuid.UUID `json:"rater_user_id" db:"rater_user_id"`
	Rating      int       `json:"rating" db:"rating"`
	Comment     *string   `json:"comment,omitempty" db:"comment"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

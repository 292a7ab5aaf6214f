package bidding

import (
	"errors"
	"fmt"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
)

// Kind classifies an expected rule failure
type Kind string

// Rejection kinds
const (
	KindNotFound          Kind = "not_found"
	KindNotActive         Kind = "not_active"
	KindAlreadyEnded      Kind = "already_ended"
	KindSelfBid           Kind = "self_bid"
	KindBlacklisted       Kind = "blacklisted"
	KindAlreadyLeading    Kind = "already_leading"
	KindInvalidMultiplier Kind = "invalid_multiplier"
	KindBuyoutDisabled    Kind = "buyout_disabled"
	KindDuplicate         Kind = "duplicate"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidInput      Kind = "invalid_input"
)

// Rejection is a rule failure that is safe to show to the user verbatim.
// Nothing was written when it is returned.
type Rejection struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(kind Kind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps a Rejection from err
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// notFound turns a store miss into a NotFound rejection and passes other errors through
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return reject(KindNotFound, format, args...)
	}
	return err
}

package flow

import (
	"errors"
	"net/url"

	"github.com/google/uuid"
)

// PendingSelection is the slot choice parked while the user signs in. It
// round-trips through the sign-in callback URL as query parameters so the
// flow resumes instead of restarting.
type PendingSelection struct {
	City    string
	Service string
	SlotID  uuid.UUID
}

var ErrNoPendingSelection = errors.New("no pending selection in query")

// Query serializes the selection for a callback URL.
func (p PendingSelection) Query() url.Values {
	v := url.Values{}
	v.Set("city", p.City)
	v.Set("service", p.Service)
	v.Set("slot", p.SlotID.String())
	return v
}

// ParsePendingSelection reads a selection back out of callback query
// parameters.
func ParsePendingSelection(v url.Values) (PendingSelection, error) {
	slot := v.Get("slot")
	if slot == "" {
		return PendingSelection{}, ErrNoPendingSelection
	}
	slotID, err := uuid.Parse(slot)
	if err != nil {
		return PendingSelection{}, err
	}
	return PendingSelection{
		City:    v.Get("city"),
		Service: v.Get("service"),
		SlotID:  slotID,
	}, nil
}

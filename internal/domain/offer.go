package domain

import (
	"time"

	"github.com/google/uuid"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
	OfferExpired  OfferStatus = "EXPIRED"
)

// Offer is one-to-one with an application at OFFER_RECEIVED or later.
type Offer struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID

	Salary     int
	Currency   string
	Benefits   string
	Conditions string

	Deadline time.Time
	Status   OfferStatus

	CreatedAt time.Time
}

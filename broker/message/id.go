package message

import (
	"github.com/google/uuid"
)

// NewAckID returns a random identifier for one delivery of an ack. It is
// carried next to the payload by the transport and is not part of Ack.
func NewAckID() string {
	return uuid.New().String()
}

// ValidAckID reports whether id looks like an identifier made by NewAckID.
func ValidAckID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

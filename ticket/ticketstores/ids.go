package ticketstores

import (
	"github.com/pkg/errors"
	"github.com/thanhpk/randstr"

	"github.com/openmodeller/omws/ticket"
)

// Give up allocating after this many consecutive collisions.
const maxCreateAttempts = 64

func newCandidateID() ticket.ID {
	return ticket.ID(randstr.String(ticket.IDLength, ticket.IDAlphabet))
}

// allocate calls tryCreate with fresh candidates until one is not taken.
// tryCreate must be an atomic create-if-absent returning ticket.ErrExists on collision.
func allocate(tryCreate func(ticket.ID) error) (ticket.ID, error) {
	for i := 0; i < maxCreateAttempts; i++ {
		id := newCandidateID()
		err := tryCreate(id)
		if err == nil {
			return id, nil
		}
		if errors.Cause(err) != ticket.ErrExists {
			return "", err
		}
	}
	return "", errors.Errorf("could not allocate a ticket id after %d attempts", maxCreateAttempts)
}

package ticket

import (
	"github.com/pkg/errors"
)

// Role tags a dependency edge with the part of the producer's result the
// consumer needs.
type Role string

const (
	PresenceRole Role = "presence"
	AbsenceRole  Role = "absence"
	ModelRole    Role = "model"
	// LPTRole is the lowest presence threshold derived by an Evaluate job.
	LPTRole Role = "lpt"
)

var ErrInvalidRole = errors.New("invalid dependency role")

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case PresenceRole, AbsenceRole, ModelRole, LPTRole:
		return r, nil
	}
	return "", errors.Wrapf(ErrInvalidRole, "%q", s)
}

// Edge is a dependency as seen from the consumer: Producer feeds Role.
type Edge struct {
	Producer ID
	Role     Role
}

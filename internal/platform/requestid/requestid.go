package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-char hex request id derived from a random UUID.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

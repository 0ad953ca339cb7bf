package instrument

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Bus exchanges SCPI messages with instruments addressed by GPIB primary
// address.
type Bus interface {
	Write(addr int, cmd string) error
	Query(addr int, cmd string) (string, error)
	Close() error
}

// ParseAddress extracts the primary address from a VISA resource string such
// as "GPIB0::24::INSTR". A bare number is accepted as well.
func ParseAddress(resource string) (int, error) {
	s := strings.TrimSpace(resource)
	if s == "" {
		return 0, errors.New("empty GPIB resource")
	}

	if strings.Contains(s, "::") {
		parts := strings.Split(s, "::")
		if len(parts) < 2 || !strings.HasPrefix(strings.ToUpper(parts[0]), "GPIB") {
			return 0, errors.Errorf("unsupported resource %q", resource)
		}
		s = parts[1]
	}

	addr, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid GPIB address in %q", resource)
	}
	if addr < 0 || addr > 30 {
		return 0, errors.Errorf("GPIB address %d out of range 0-30", addr)
	}
	return addr, nil
}

package producer

import (
	"fmt"
	"net"
	"regexp"

	"github.com/quanglt/vulnscan-be/internal/api/domain"
)

// hostnameRe matches RFC 1123 labels joined by dots
var hostnameRe = regexp.MustCompile(`^([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])(\.([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]{0,61}[a-zA-Z0-9]))*$`)

// ValidateTarget checks a trimmed target against the job-type-specific rules.
// Scan targets must be an IP address or a hostname; lookup targets just have
// to be a non-empty keyword.
func ValidateTarget(jobType, target string) error {
	if target == "" {
		return fmt.Errorf("%w: target must not be empty", domain.ErrInvalidTarget)
	}

	switch jobType {
	case domain.JobTypeScan:
		if net.ParseIP(target) != nil {
			return nil
		}
		if len(target) > 253 || !hostnameRe.MatchString(target) {
			return fmt.Errorf("%w: %q is not a valid IP address or hostname", domain.ErrInvalidTarget, target)
		}
		return nil

	case domain.JobTypeLookup:
		return nil

	default:
		return fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidTarget, jobType)
	}
}

package media

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// Ticket ids look like image-1735689600123-9f8a3c01: the kind, a millisecond
// timestamp for traceability, and 4 random bytes. Finalize validates against
// this pattern before touching storage so foreign keys can never be injected.
var ticketPattern = regexp.MustCompile(`^(image|video)-\d{10,16}-[0-9a-f]{8}$`)

func NewTicketID(kind Kind, now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ticket randomness: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s", kind, now.UnixMilli(), hex.EncodeToString(buf)), nil
}

func ValidTicketID(id string) bool {
	return ticketPattern.MatchString(id)
}

func TicketKind(id string) Kind {
	if strings.HasPrefix(id, "video-") {
		return KindVideo
	}
	return KindImage
}

// RawObjectKey derives the storage key a ticket is scoped to.
func RawObjectKey(ticketID, fileName string) string {
	return fmt.Sprintf("raw/%s/%s", ticketID, SanitizeFilename(fileName))
}

func SanitizeFilename(name string) string {
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

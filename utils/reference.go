package utils

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TrustLocation is the trust's local zone. Reference dates and report day
// boundaries are both cut in it.
var TrustLocation = time.FixedZone("IST", 5*60*60+30*60)

var referencePattern = regexp.MustCompile(`^PAY-\d{8}-[0-9A-F]{8}$`)

// NewPaymentReference returns PAY-<YYYYMMDD>-<8 hex>. Uniqueness is
// probabilistic within a day.
func NewPaymentReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "PAY-" + now.In(TrustLocation).Format("20060102") + "-" + suffix
}

// IsPaymentReference reports whether s has the payment reference shape.
func IsPaymentReference(s string) bool {
	return referencePattern.MatchString(s)
}

package referral

import (
	"strconv"
	"strings"
)

const legacyPayloadPrefix = "ref_"

// ParseReferrer turns a /start payload into a referrer id. Anything that is not
// a positive id other than userID yields nil.
func ParseReferrer(payload string, userID int64) *int64 {
	payload = strings.TrimPrefix(strings.TrimSpace(payload), legacyPayloadPrefix)
	if payload == "" {
		return nil
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil
	}
	return normalizeReferrer(userID, &id)
}

func normalizeReferrer(userID int64, referrerID *int64) *int64 {
	if referrerID == nil || *referrerID <= 0 || *referrerID == userID {
		return nil
	}
	id := *referrerID
	return &id
}

// Payload is the deep-link payload that attributes new users to userID.
func Payload(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Package dedup suppresses handling of a redelivered Telegram update.
//
// It is a courtesy layer for replies only. Registration correctness does not
// depend on it: the users table is what serializes duplicate registrations.
package dedup

import "context"

type Guard interface {
	// Claim reports whether the caller is the first to see updateID within the TTL.
	Claim(ctx context.Context, updateID int) (bool, error)
}

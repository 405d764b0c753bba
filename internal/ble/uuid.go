package ble

import (
	"strings"

	"github.com/google/uuid"
)

// SameUUID reports whether a and b name the same UUID, ignoring case and
// formatting. Values that are not full 128-bit UUIDs (16-bit short forms
// some stacks report) are compared case-insensitively as strings.
func SameUUID(a, b string) bool {
	ua, errA := uuid.Parse(a)
	ub, errB := uuid.Parse(b)
	if errA == nil && errB == nil {
		return ua == ub
	}
	return strings.EqualFold(a, b)
}

// NormalizeUUID returns the canonical lowercase form of s.
func NormalizeUUID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Profile names the UART service and the two characteristic roles.
type Profile struct {
	Service string
	Notify  string // peripheral-to-central readback
	Write   string // central-to-peripheral commands
}

// DefaultProfile is the micro:bit UART layout.
func DefaultProfile() Profile {
	return Profile{
		Service: ServiceUUID,
		Notify:  TXCharUUID,
		Write:   RXCharUUID,
	}
}

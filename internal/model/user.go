package model

import "time"

// User is a roster record for an actor the bot has seen. Records are
// immutable once indexed; only the related phone number may be supplemented
// later under a separate key.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	// SeenAtMillis is the first-sight timestamp in Unix milliseconds. It
	// determines the record's position in the time-ordered index.
	SeenAtMillis int64 `json:"ts"`
}

// SeenAt returns the first-sight timestamp.
func (u User) SeenAt() time.Time {
	return time.UnixMilli(u.SeenAtMillis)
}

// DisplayName joins the first and last name.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// UserCSVHeader is the fixed column sequence for user exports.
var UserCSVHeader = []string{"id", "username", "first_name", "last_name", "ts_iso"}

// PhoneCSVHeader is the fixed column sequence for phone exports.
var PhoneCSVHeader = []string{"id", "phone", "username", "first_name", "last_name", "ts_iso"}

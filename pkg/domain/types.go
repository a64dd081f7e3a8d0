package domain

import "time"

// lastModifiedLayout is the wall-clock form exposed by the metadata endpoint.
const lastModifiedLayout = "2006-01-02 15:04:05"

// User is one dialog subject. Users are scoped to the owner (the API
// caller identity) that created them; the same user id under two owners
// names two independent dialogs.
type User struct {
	Owner        string    `json:"-"`
	UserID       string    `json:"user_id"`
	LastModified time.Time `json:"-"`
}

// LastModifiedDatetime renders the last-modified instant as
// "YYYY-MM-DD HH:MM:SS" in local time.
func (u User) LastModifiedDatetime() string {
	return u.LastModified.Local().Format(lastModifiedLayout)
}

// LastModifiedUnix returns the last-modified instant as unix seconds.
func (u User) LastModifiedUnix() int64 {
	return u.LastModified.Unix()
}

// Turn is one recorded message in a user's dialog. Indices are zero-based,
// contiguous and unique within a dialog, in insertion order.
type Turn struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

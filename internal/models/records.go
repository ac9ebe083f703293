package models

import "strings"

// Direction names a polling loop's walk over a collection.
type Direction string

const (
	// DirectionArchive walks "next" links toward older items.
	DirectionArchive Direction = "archive"
	// DirectionFollow walks "prev" links toward newer items.
	DirectionFollow Direction = "follow"
)

// Ids of the singleton records kept per instance domain.

func AuthID(domain string) string    { return domain + "/oauth/auth" }
func AccessID(domain string) string  { return domain + "/oauth/access" }
func AccountID(domain string) string { return domain + "/account" }

// CursorID is the id of the record holding a loop's saved cursor.
func CursorID(domain string, dir Direction, path string) string {
	return domain + "/cursors/" + string(dir) + "/" + strings.Trim(path, "/")
}

// FollowersPath and FollowingPath are the collection paths of an account's
// social graph, as used for the mutuals query.
func FollowersPath(accountID string) string { return "accounts/" + accountID + "/followers" }
func FollowingPath(accountID string) string { return "accounts/" + accountID + "/following" }

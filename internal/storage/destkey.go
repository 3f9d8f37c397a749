package storage

import (
	"net/url"
	"strings"
)

// EscapeDestinationURL derives the persisted-document key for a destination
// by stripping "http://"/"https://", "/", and ":" and then percent-encoding
// the remainder, used for the replication/destinations-failure/{escapedUrl}
// key space.
func EscapeDestinationURL(destURL string) string {
	s := strings.ToLower(destURL)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.NewReplacer("/", "", ":", "").Replace(s)
	return url.QueryEscape(s)
}

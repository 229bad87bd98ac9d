package provider

import "strings"

// splitBindleID splits a bindle ID of the form "example.com/foo/bar/1.2.3" into its name
// ("example.com/foo/bar") and version ("1.2.3"), treating the trailing path segment as the
// version per spec §4.H's greedy path grammar.
func splitBindleID(bindleID string) (name, version string) {
	idx := strings.LastIndex(bindleID, "/")
	if idx < 0 {
		return "", bindleID
	}
	return bindleID[:idx], bindleID[idx+1:]
}

package http

import "regexp"

// Session ids travel in URL paths and name snapshot directories, so
// the accepted charset matches what the normalizer produces.
var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func isValidSlug(s string) bool {
	return slugRe.MatchString(s)
}

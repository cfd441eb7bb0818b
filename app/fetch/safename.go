package fetch

import "regexp"

// Control characters and anything a filesystem may reject in a file name.
var reBadChars = regexp.MustCompile(`[\x00-\x20?*:<>\\/"|]`)

// SafeFileName derives a deterministic cache key from a URL by replacing
// characters outside the safe set with "-".
func SafeFileName(url string) string {
	return reBadChars.ReplaceAllString(url, "-")
}

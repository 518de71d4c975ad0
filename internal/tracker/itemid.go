package tracker

import "regexp"

// Listing identity: the marketplace item id is an "m" followed by 11 digits,
// embedded somewhere in the listing URL.
var itemIDPattern = regexp.MustCompile(`(m\d{11})`)

// ParseItemID extracts the stable item id from a listing URL. It returns
// ErrInvalidListingURL when the URL matches no known identity pattern; this
// is checked before any page access is attempted.
func ParseItemID(rawURL string) (string, error) {
	match := itemIDPattern.FindString(rawURL)
	if match == "" {
		return "", ErrInvalidListingURL
	}
	return match, nil
}

package domain

import "io"

// ListingEntry is one raw item from the publications index page.
type ListingEntry struct {
	Title       string
	URL         string
	TypeLabel   string
	DateText    string
	Description string
}

type ListingPage struct {
	Entries      []ListingEntry
	TotalResults int
}

// RemoteFile is an open response body for a binary download.
type RemoteFile struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

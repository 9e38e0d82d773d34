// Package fca reads the regulator's enforcement search listing and fetches
// the linked PDF documents.
package fca

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultBaseURL   = "https://www.fca.org.uk/search-results?n_search_term=&category=enforcement&sort_by=dmetaZ"
	DefaultUserAgent = "Mozilla/5.0 (compatible; EnforcementScanner/1.0)"
)

// Selectors locate listing fields in the search results markup. Title and
// link are read from the same anchor.
type Selectors struct {
	Item         string `yaml:"item"`
	TitleLink    string `yaml:"title_link"`
	Type         string `yaml:"type"`
	Date         string `yaml:"date"`
	Description  string `yaml:"description"`
	TotalResults string `yaml:"total_results"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Item:         "ol.search-list > li, li.search-item",
		TitleLink:    ".search-item__title a, h4 a, a.search-item__clickthrough",
		Type:         ".meta-item.type, .search-item__type",
		Date:         ".meta-item.published-date, .search-item__date",
		Description:  ".search-item__body, p",
		TotalResults: ".search-summary, .search-results__count",
	}
}

// Merge fills empty selectors from defaults.
func (s Selectors) Merge(defaults Selectors) Selectors {
	out := s
	if out.Item == "" {
		out.Item = defaults.Item
	}
	if out.TitleLink == "" {
		out.TitleLink = defaults.TitleLink
	}
	if out.Type == "" {
		out.Type = defaults.Type
	}
	if out.Date == "" {
		out.Date = defaults.Date
	}
	if out.Description == "" {
		out.Description = defaults.Description
	}
	if out.TotalResults == "" {
		out.TotalResults = defaults.TotalResults
	}
	return out
}

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// StartParam and SizeParam name the 0-based offset and page size query
	// parameters.
	StartParam string
	SizeParam  string

	// RetryAttempts and RetryWait bound the fixed wait-and-retry applied to
	// 5xx responses for the same page.
	RetryAttempts int
	RetryWait     time.Duration
	Selectors     Selectors

	// NoSandbox is passed to the headless browser; containers need it.
	NoSandbox bool
}

func (c Config) withDefaults() Config {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.UserAgent == "" {
		out.UserAgent = DefaultUserAgent
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.StartParam == "" {
		out.StartParam = "start"
	}
	if out.SizeParam == "" {
		out.SizeParam = "np"
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.RetryWait < 0 {
		out.RetryWait = 0
	}
	out.Selectors = out.Selectors.Merge(DefaultSelectors())
	return out
}

func (c Config) pageURL(startIndex, pageSize int) (string, *url.URL, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse base url: %w", err)
	}
	u := *base
	q := u.Query()
	q.Set(c.StartParam, strconv.Itoa(startIndex))
	if pageSize > 0 {
		q.Set(c.SizeParam, strconv.Itoa(pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), base, nil
}

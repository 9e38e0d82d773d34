package fca

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/extract"
)

var (
	totalOfPattern = regexp.MustCompile(`(?i)\bof\s+([\d,]+)`)
	numberPattern  = regexp.MustCompile(`\d[\d,]*`)
)

// parseListing maps one search results document to listing entries.
// Entries without a title or link are dropped.
func parseListing(doc *goquery.Document, base *url.URL, sel Selectors) domain.ListingPage {
	page := domain.ListingPage{Entries: make([]domain.ListingEntry, 0)}

	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		anchor := item.Find(sel.TitleLink).First()
		title := cleanText(anchor.Text())
		href, _ := anchor.Attr("href")
		link := resolveLink(base, href)
		if title == "" || link == "" {
			return
		}

		page.Entries = append(page.Entries, domain.ListingEntry{
			Title:       title,
			URL:         link,
			TypeLabel:   cleanText(item.Find(sel.Type).First().Text()),
			DateText:    dateText(item.Find(sel.Date).First().Text()),
			Description: cleanText(item.Find(sel.Description).First().Text()),
		})
	})

	page.TotalResults = parseTotal(doc.Find(sel.TotalResults).First().Text())
	return page
}

func cleanText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// dateText reduces labels such as "Published: 22/12/2025" to the date.
func dateText(raw string) string {
	raw = cleanText(raw)
	if dates := extract.Dates(raw); len(dates) > 0 {
		return dates[0].Format("02/01/2006")
	}
	return raw
}

func parseTotal(raw string) int {
	raw = cleanText(raw)
	if raw == "" {
		return 0
	}
	literal := ""
	if m := totalOfPattern.FindStringSubmatch(raw); m != nil {
		literal = m[1]
	} else if m := numberPattern.FindString(raw); m != "" {
		literal = m
	}
	n, err := strconv.Atoi(strings.ReplaceAll(literal, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shopharvest/crawler/internal/engine"
)

// reviewsPerPage is the review count one listing page carries.
const reviewsPerPage = 10

// ParseCategory extracts product targets from a search/category listing page.
func ParseCategory(pageURL string, body []byte) (*engine.Payload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, engine.NewAttemptError(engine.KindParseFailure, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, engine.NewAttemptError(engine.KindParseFailure, err)
	}

	seen := make(map[string]struct{})
	var next []engine.Target
	doc.Find("div.s-result-item[data-asin]").Each(func(_ int, s *goquery.Selection) {
		asin := strings.TrimSpace(s.AttrOr("data-asin", ""))
		if asin == "" {
			return
		}
		if _, dup := seen[asin]; dup {
			return
		}
		seen[asin] = struct{}{}
		next = append(next, engine.Target{
			URL: base.ResolveReference(&url.URL{Path: "/dp/" + asin}).String(),
			Key: asin,
		})
	})

	return &engine.Payload{
		Fields: map[string]string{
			"category_url":  pageURL,
			"product_count": strconv.Itoa(len(next)),
		},
		Next: next,
	}, nil
}

// ParseProduct extracts the product detail fields and derives the review page
// targets, bounded by maxReviewPages.
func ParseProduct(pageURL string, body []byte, maxReviewPages int) (*engine.Payload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, engine.NewAttemptError(engine.KindParseFailure, err)
	}

	title := strings.TrimSpace(doc.Find("#productTitle").First().Text())
	if title == "" {
		return nil, engine.NewAttemptError(engine.KindParseFailure, fmt.Errorf("product page has no title"))
	}

	fields := map[string]string{"title": title}
	if price := strings.TrimSpace(doc.Find(".a-price .a-offscreen").First().Text()); price != "" {
		fields["price"] = price
	}
	if rating := strings.TrimSpace(doc.Find("#acrPopover").First().AttrOr("title", "")); rating != "" {
		fields["rating"] = rating
	} else if alt := strings.TrimSpace(doc.Find("span.a-icon-alt").First().Text()); alt != "" {
		fields["rating"] = alt
	}
	if avail := strings.TrimSpace(doc.Find("#availability span").First().Text()); avail != "" {
		fields["availability"] = avail
	}

	reviewCount := parseCount(doc.Find("#acrCustomerReviewText").First().Text())
	fields["review_count"] = strconv.Itoa(reviewCount)

	asin := asinFromURL(pageURL)
	if asin != "" {
		fields["asin"] = asin
	}

	next, err := reviewTargets(pageURL, asin, reviewCount, maxReviewPages)
	if err != nil {
		return nil, engine.NewAttemptError(engine.KindParseFailure, err)
	}
	return &engine.Payload{Fields: fields, Next: next}, nil
}

// ReviewEntry is one customer review lifted from a review listing page.
type ReviewEntry struct {
	Title  string `json:"title,omitempty"`
	Rating string `json:"rating,omitempty"`
	Body   string `json:"body,omitempty"`
}

// ParseReview extracts the reviews present on one review listing page.
func ParseReview(pageURL string, body []byte) (*engine.Payload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, engine.NewAttemptError(engine.KindParseFailure, err)
	}

	var reviews []ReviewEntry
	doc.Find("div[data-hook=review]").Each(func(_ int, s *goquery.Selection) {
		reviews = append(reviews, ReviewEntry{
			Title:  strings.TrimSpace(s.Find("a[data-hook=review-title], span[data-hook=review-title]").First().Text()),
			Rating: strings.TrimSpace(s.Find("i[data-hook=review-star-rating] span.a-icon-alt").First().Text()),
			Body:   strings.TrimSpace(s.Find("span[data-hook=review-body]").First().Text()),
		})
	})

	fields := map[string]string{
		"page_url":     pageURL,
		"review_count": strconv.Itoa(len(reviews)),
	}
	if len(reviews) > 0 {
		encoded, err := json.Marshal(reviews)
		if err != nil {
			return nil, engine.NewAttemptError(engine.KindParseFailure, err)
		}
		fields["reviews"] = string(encoded)
	}
	return &engine.Payload{Fields: fields}, nil
}

// reviewTargets derives the paginated review listing URLs for a product. Page
// count follows the advertised review total, capped by maxPages.
func reviewTargets(pageURL, asin string, reviewCount, maxPages int) ([]engine.Target, error) {
	if asin == "" || reviewCount == 0 || maxPages <= 0 {
		return nil, nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	pages := (reviewCount + reviewsPerPage - 1) / reviewsPerPage
	if pages > maxPages {
		pages = maxPages
	}
	targets := make([]engine.Target, 0, pages)
	for page := 1; page <= pages; page++ {
		ref := &url.URL{
			Path:     "/product-reviews/" + asin,
			RawQuery: fmt.Sprintf("pageNumber=%d", page),
		}
		targets = append(targets, engine.Target{
			URL: base.ResolveReference(ref).String(),
			Key: fmt.Sprintf("%s/reviews/%d", asin, page),
		})
	}
	return targets, nil
}

// asinFromURL pulls the ASIN out of a /dp/<asin> product URL.
func asinFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "dp" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// parseCount extracts the leading integer from strings like "1,234 ratings".
func parseCount(text string) int {
	text = strings.TrimSpace(text)
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		if r == ',' || r == '.' {
			continue
		}
		break
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

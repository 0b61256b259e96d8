package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shopharvest/crawler/internal/engine"
)

const categoryHTML = `<!doctype html>
<html><body>
<div class="s-main-slot">
  <div class="s-result-item" data-asin="B0AAA1111"><h2>First Widget</h2></div>
  <div class="s-result-item" data-asin="B0BBB2222"><h2>Second Widget</h2></div>
  <div class="s-result-item" data-asin=""><h2>Sponsored slot</h2></div>
  <div class="s-result-item" data-asin="B0AAA1111"><h2>Duplicate listing</h2></div>
</div>
</body></html>`

const productHTML = `<!doctype html>
<html><body>
<span id="productTitle"> Ergonomic Steel Widget </span>
<div class="a-price"><span class="a-offscreen">£24.99</span></div>
<span id="acrPopover" title="4.6 out of 5 stars"></span>
<span id="acrCustomerReviewText">1,234 ratings</span>
<div id="availability"><span> In Stock </span></div>
</body></html>`

const reviewHTML = `<!doctype html>
<html><body>
<div data-hook="review">
  <a data-hook="review-title"><span>Excellent</span></a>
  <i data-hook="review-star-rating"><span class="a-icon-alt">5.0 out of 5 stars</span></i>
  <span data-hook="review-body">Solid build, would buy again.</span>
</div>
<div data-hook="review">
  <span data-hook="review-title">Too heavy</span>
  <i data-hook="review-star-rating"><span class="a-icon-alt">2.0 out of 5 stars</span></i>
  <span data-hook="review-body">Not for travel.</span>
</div>
</body></html>`

func TestParseCategory(t *testing.T) {
	t.Parallel()
	payload, err := ParseCategory("https://www.example.com/s?k=widgets", []byte(categoryHTML))
	require.NoError(t, err)

	require.Equal(t, "2", payload.Fields["product_count"])
	require.Len(t, payload.Next, 2)
	require.Equal(t, engine.Target{URL: "https://www.example.com/dp/B0AAA1111", Key: "B0AAA1111"}, payload.Next[0])
	require.Equal(t, "B0BBB2222", payload.Next[1].Key)
}

func TestParseProduct(t *testing.T) {
	t.Parallel()
	payload, err := ParseProduct("https://www.example.com/dp/B0AAA1111", []byte(productHTML), 3)
	require.NoError(t, err)

	require.Equal(t, "Ergonomic Steel Widget", payload.Fields["title"])
	require.Equal(t, "£24.99", payload.Fields["price"])
	require.Equal(t, "4.6 out of 5 stars", payload.Fields["rating"])
	require.Equal(t, "In Stock", payload.Fields["availability"])
	require.Equal(t, "1234", payload.Fields["review_count"])
	require.Equal(t, "B0AAA1111", payload.Fields["asin"])

	// 1234 reviews would need 124 pages; the cap keeps it at 3.
	require.Len(t, payload.Next, 3)
	require.Equal(t, "https://www.example.com/product-reviews/B0AAA1111?pageNumber=1", payload.Next[0].URL)
	require.Equal(t, "B0AAA1111/reviews/3", payload.Next[2].Key)
}

func TestParseProduct_MissingTitleIsParseFailure(t *testing.T) {
	t.Parallel()
	_, err := ParseProduct("https://www.example.com/dp/B0AAA1111", []byte("<html><body></body></html>"), 3)
	var attemptErr *engine.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	require.Equal(t, engine.KindParseFailure, attemptErr.Kind)
}

func TestParseProduct_FewReviewsFewerPages(t *testing.T) {
	t.Parallel()
	html := `<html><body>
<span id="productTitle">Widget</span>
<span id="acrCustomerReviewText">12 ratings</span>
</body></html>`
	payload, err := ParseProduct("https://www.example.com/dp/B0CCC3333", []byte(html), 5)
	require.NoError(t, err)
	// 12 reviews fit on two pages.
	require.Len(t, payload.Next, 2)
}

func TestParseProduct_NoReviewsNoTargets(t *testing.T) {
	t.Parallel()
	html := `<html><body><span id="productTitle">Widget</span></body></html>`
	payload, err := ParseProduct("https://www.example.com/dp/B0DDD4444", []byte(html), 5)
	require.NoError(t, err)
	require.Equal(t, "0", payload.Fields["review_count"])
	require.Empty(t, payload.Next)
}

func TestParseReview(t *testing.T) {
	t.Parallel()
	payload, err := ParseReview("https://www.example.com/product-reviews/B0AAA1111?pageNumber=1", []byte(reviewHTML))
	require.NoError(t, err)

	require.Equal(t, "2", payload.Fields["review_count"])
	require.Contains(t, payload.Fields["reviews"], "Excellent")
	require.Contains(t, payload.Fields["reviews"], "2.0 out of 5 stars")
	require.Empty(t, payload.Next)
}

func TestAsinFromURL(t *testing.T) {
	t.Parallel()
	require.Equal(t, "B0AAA1111", asinFromURL("https://www.example.com/dp/B0AAA1111"))
	require.Equal(t, "B0AAA1111", asinFromURL("https://www.example.com/Some-Product-Name/dp/B0AAA1111/ref=sr_1_1"))
	require.Empty(t, asinFromURL("https://www.example.com/s?k=widgets"))
}

func TestParseCount(t *testing.T) {
	t.Parallel()
	require.Equal(t, 1234, parseCount("1,234 ratings"))
	require.Equal(t, 7, parseCount("  7 ratings"))
	require.Equal(t, 0, parseCount("no ratings yet"))
	require.Equal(t, 0, parseCount(""))
}

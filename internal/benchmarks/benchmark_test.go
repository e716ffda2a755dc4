package benchmarks

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/cache"
	"github.com/oneclicktag/oneclicktag/internal/crawler"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/niche"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/util"
)

// Tenant lookups during the Google bootstrap
func BenchmarkTTLCacheGet(b *testing.B) {
	c := cache.NewTTLCache(time.Minute)
	c.Set("tenant-1", "ok")

	b.ResetTimer()
	for b.Loop() {
		c.Get("tenant-1")
	}
}

func BenchmarkTTLCacheConcurrentAccess(b *testing.B) {
	c := cache.NewTTLCache(time.Minute)
	for i := range 100 {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("key-%d", i%100)
			if i%10 == 0 {
				c.Set(key, i)
			} else {
				c.Get(key)
			}
			i++
		}
	})
}

// Every link found during a crawl is normalised before the seen-set check
func BenchmarkNormaliseURL(b *testing.B) {
	urls := []string{
		"https://Shop.Example.com/products/trail-shoe?utm_source=x#reviews",
		"http://shop.example.com:80/cart/",
		"https://shop.example.com/./checkout/../checkout",
	}

	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		util.NormaliseURL(urls[i%len(urls)])
	}
}

var benchPage = []byte(`<html><head><title>Trail shoes</title></head><body>
<nav><a href="/products">Shop</a><a href="/cart">Cart</a><a href="tel:+15550100">Call</a></nav>
<h1>Free shipping on all orders</h1>
<form id="newsletter"><input type="email" name="email"><button type="submit">Subscribe</button></form>
<a class="btn" href="/checkout">Buy now</a>
<iframe src="https://www.youtube.com/embed/abc"></iframe>
` + strings.Repeat(`<p>In stock. Add to cart. <a href="/products/x">Details</a></p>`, 50) + `</body></html>`)

func BenchmarkAnalyzePage(b *testing.B) {
	b.SetBytes(int64(len(benchPage)))
	for b.Loop() {
		if _, err := crawler.Analyze("https://shop.example.com/", benchPage); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClassifyNiche(b *testing.B) {
	c := niche.New()
	pages := make([]niche.Page, 0, 50)
	for i := range 50 {
		pages = append(pages, niche.Page{
			URL:        fmt.Sprintf("https://shop.example.com/products/%d", i),
			PageType:   "product",
			TextSample: "Free shipping on all orders. In stock. Add to cart or add to wishlist. Checkout securely.",
		})
	}
	in := niche.Input{
		Pages:        pages,
		Discovery:    domain.LiveDiscovery{HasCart: true},
		Technologies: domain.Technologies{Ecommerce: []string{"Shopify"}},
	}

	b.ResetTimer()
	for b.Loop() {
		c.Classify(in)
	}
}

func BenchmarkDeriveRecommendations(b *testing.B) {
	page := &domain.ScanPage{
		URL:      "https://shop.example.com/checkout",
		PageType: "checkout",
		Elements: []domain.Element{
			{Kind: domain.KindForm, Selector: "#payment", FormKind: "generic"},
			{Kind: domain.KindTelLink, Selector: `a[href^="tel:"]`},
		},
	}

	for b.Loop() {
		recommend.Derive(page, domain.NicheEcommerce)
	}
}

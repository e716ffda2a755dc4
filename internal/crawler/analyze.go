package crawler

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/util"
)

// Page types assigned during analysis.
const (
	PageHome     = "home"
	PageProduct  = "product"
	PageCategory = "category"
	PageCart     = "cart"
	PageCheckout = "checkout"
	PageThankYou = "thank_you"
	PageLogin    = "login"
	PageSignup   = "signup"
	PageContact  = "contact"
	PagePricing  = "pricing"
	PageBooking  = "booking"
	PageBlog     = "blog"
	PageAbout    = "about"
	PageSearch   = "search"
	PageOther    = "other"
)

const (
	maxTextSample = 5000
	maxCTAs       = 20
)

var (
	simpleIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	whitespace  = regexp.MustCompile(`\s+`)

	ctaPhrases = []string{
		"add to cart", "add to bag", "buy now", "buy", "shop now", "order now", "checkout",
		"sign up", "signup", "get started", "start free trial", "free trial", "try it free", "register",
		"book now", "book a", "schedule", "request a quote", "get a quote", "request a demo", "book a demo",
		"contact us", "get in touch", "subscribe", "donate", "enroll", "apply now", "download",
	}

	downloadExtensions = []string{".pdf", ".zip", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".csv", ".dmg", ".exe"}

	socialHosts = []string{
		"facebook.com", "twitter.com", "x.com", "linkedin.com", "instagram.com",
		"youtube.com", "tiktok.com", "pinterest.com",
	}

	// ordered; first match wins
	pathTypes = []struct {
		pageType string
		needles  []string
	}{
		{PageThankYou, []string{"thank-you", "thankyou", "thanks", "order-received", "confirmation"}},
		{PageCheckout, []string{"checkout"}},
		{PageCart, []string{"/cart", "/basket", "/bag"}},
		{PageLogin, []string{"/login", "/log-in", "/signin", "/sign-in", "/account/login", "/my-account"}},
		{PageSignup, []string{"/signup", "/sign-up", "/register", "/join", "/trial"}},
		{PageProduct, []string{"/product/", "/products/", "/p/", "/item/", "/shop/"}},
		{PageCategory, []string{"/category/", "/categories/", "/collections/", "/c/", "/product-category/"}},
		{PagePricing, []string{"/pricing", "/plans", "/prices"}},
		{PageContact, []string{"/contact", "/get-in-touch", "/quote"}},
		{PageBooking, []string{"/book", "/booking", "/appointment", "/reservation", "/schedule"}},
		{PageSearch, []string{"/search"}},
		{PageBlog, []string{"/blog", "/news", "/articles", "/post/", "/posts/"}},
		{PageAbout, []string{"/about", "/team", "/company"}},
	}
)

// Analyze parses an HTML document and extracts the trackable structure of the page
func Analyze(pageURL string, body []byte) (*Analysis, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	seenElements := make(map[string]bool)
	addElement := func(el domain.Element) {
		key := el.Kind + "|" + el.Selector
		if seenElements[key] {
			return
		}
		seenElements[key] = true
		a.Elements = append(a.Elements, el)
	}

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		kind := classifyForm(s)
		if kind == "login" {
			a.LoginForm = true
		}
		a.HasForm = true
		addElement(domain.Element{
			Kind:     domain.KindForm,
			Selector: selectorFor(s),
			FormKind: kind,
		})
	})
	// password fields outside a form still mean a login screen
	if doc.Find(`input[type="password"]`).Length() > 0 {
		a.LoginForm = true
	}

	ctas := 0
	doc.Find(`button, a[href], input[type="submit"]`).Each(func(_ int, s *goquery.Selection) {
		if ctas >= maxCTAs || isElementHidden(s) {
			return
		}
		if s.Is("button, input") && s.Closest("form").Length() > 0 {
			return
		}
		text := elementText(s)
		if !isCTA(text, s) {
			return
		}
		ctas++
		a.HasCTA = true
		addElement(domain.Element{
			Kind:     domain.KindButton,
			Selector: selectorFor(s),
			Text:     text,
			Href:     s.AttrOr("href", ""),
		})
	})

	seenLinks := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "tel:"):
			addElement(domain.Element{Kind: domain.KindTelLink, Selector: `a[href^="tel:"]`, Href: href})
			return
		case strings.HasPrefix(lower, "mailto:"):
			addElement(domain.Element{Kind: domain.KindMailLink, Selector: `a[href^="mailto:"]`, Href: href})
			return
		case href == "" || href == "#" || strings.HasPrefix(lower, "javascript:"):
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if ext := downloadExtension(abs.Path); ext != "" {
			addElement(domain.Element{Kind: domain.KindDownload, Selector: `a[href$="` + ext + `"]`, Href: abs.String()})
			return
		}
		if host := socialHost(abs.Hostname()); host != "" && !util.SameSite(abs.String(), pageURL) {
			addElement(domain.Element{Kind: domain.KindSocial, Selector: `a[href*="` + host + `"]`, Href: abs.String()})
			return
		}

		if isElementHidden(s) || !util.SameSite(abs.String(), pageURL) {
			return
		}
		link := util.NormaliseURL(abs.String())
		if link == "" || seenLinks[link] {
			return
		}
		seenLinks[link] = true
		a.Links = append(a.Links, link)
	})

	doc.Find("video, iframe[src]").Each(func(_ int, s *goquery.Selection) {
		if s.Is("video") {
			a.HasVideo = true
			addElement(domain.Element{Kind: domain.KindVideo, Selector: selectorFor(s)})
			return
		}
		src := strings.ToLower(s.AttrOr("src", ""))
		for _, provider := range []string{"youtube.com", "youtube-nocookie.com", "vimeo.com", "wistia"} {
			if strings.Contains(src, provider) {
				a.HasVideo = true
				addElement(domain.Element{Kind: domain.KindVideo, Selector: `iframe[src*="` + provider + `"]`, Href: s.AttrOr("src", "")})
				return
			}
		}
	})

	a.TextSample = textSample(doc)
	a.PageType = classifyPage(base, a, doc)
	return a, nil
}

func classifyPage(u *url.URL, a *Analysis, doc *goquery.Document) string {
	path := strings.ToLower(u.Path)
	if path == "" || path == "/" {
		if a.LoginForm && len(a.Links) < 3 {
			return PageLogin
		}
		return PageHome
	}
	for _, pt := range pathTypes {
		for _, needle := range pt.needles {
			if strings.Contains(path, needle) {
				return pt.pageType
			}
		}
	}

	switch {
	case a.LoginForm:
		return PageLogin
	case doc.Find(`[itemtype*="schema.org/Product"], [data-product-id], form[action*="cart"]`).Length() > 0:
		return PageProduct
	case doc.Find(`input[type="search"], form[role="search"]`).Length() > 0 && strings.Contains(u.RawQuery, "q="):
		return PageSearch
	case doc.Find("article").Length() > 0 && doc.Find("time[datetime]").Length() > 0:
		return PageBlog
	}
	return PageOther
}

// classifyForm returns login, signup, search, newsletter, contact or generic
func classifyForm(s *goquery.Selection) string {
	passwords := s.Find(`input[type="password"]`).Length()
	action := strings.ToLower(s.AttrOr("action", "") + " " + s.AttrOr("id", "") + " " + s.AttrOr("class", ""))

	switch {
	case passwords >= 2 || (passwords == 1 && containsAny(action, "register", "signup", "sign-up", "join")):
		return "signup"
	case passwords == 1:
		return "login"
	case s.AttrOr("role", "") == "search" || s.Find(`input[type="search"], input[name="q"], input[name="s"]`).Length() > 0:
		return "search"
	}

	visible := s.Find(`input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea, select`).Length()
	emails := s.Find(`input[type="email"], input[name*="email"]`).Length()
	switch {
	case emails > 0 && visible <= 2 && s.Find("textarea").Length() == 0:
		return "newsletter"
	case s.Find("textarea").Length() > 0 || containsAny(action, "contact", "enquiry", "inquiry", "quote"):
		return "contact"
	}
	return "generic"
}

// selectorFor builds a CSS selector: the id when it is usable, otherwise tag plus classes
func selectorFor(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && simpleIdent.MatchString(id) {
		return "#" + id
	}
	if name, ok := s.Attr("name"); ok && simpleIdent.MatchString(name) {
		return tag + `[name="` + name + `"]`
	}
	sel := tag
	added := 0
	for _, class := range strings.Fields(s.AttrOr("class", "")) {
		if added == 2 {
			break
		}
		if simpleIdent.MatchString(class) {
			sel += "." + class
			added++
		}
	}
	if added == 0 && tag == "a" {
		if href := s.AttrOr("href", ""); href != "" && !strings.ContainsAny(href, `"\`) {
			return `a[href="` + href + `"]`
		}
	}
	if added == 0 && tag == "form" {
		if action := s.AttrOr("action", ""); action != "" && !strings.ContainsAny(action, `"\`) {
			return `form[action="` + action + `"]`
		}
	}
	return sel
}

func elementText(s *goquery.Selection) string {
	text := strings.TrimSpace(whitespace.ReplaceAllString(s.Text(), " "))
	if text == "" {
		text = strings.TrimSpace(s.AttrOr("value", s.AttrOr("aria-label", "")))
	}
	if len(text) > 80 {
		text = text[:80]
	}
	return text
}

func isCTA(text string, s *goquery.Selection) bool {
	class := strings.ToLower(s.AttrOr("class", ""))
	if containsAny(class, "cta", "btn-primary", "button-primary") {
		return text != ""
	}
	lower := strings.ToLower(text)
	if lower == "" || len(lower) > 40 {
		return false
	}
	for _, phrase := range ctaPhrases {
		if lower == phrase || strings.HasPrefix(lower, phrase+" ") {
			return true
		}
	}
	return false
}

func downloadExtension(p string) string {
	lower := strings.ToLower(p)
	for _, ext := range downloadExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

func socialHost(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range socialHosts {
		if host == h {
			return h
		}
	}
	return ""
}

func textSample(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, svg").Remove()
	parts := []string{
		doc.Find("title").First().Text(),
		doc.Find(`meta[name="description"]`).AttrOr("content", ""),
		body.Text(),
	}
	text := strings.TrimSpace(whitespace.ReplaceAllString(strings.Join(parts, " "), " "))
	if len(text) > maxTextSample {
		text = text[:maxTextSample]
	}
	return text
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// isElementHidden checks inline styles, aria attributes and conventional hiding classes
// on the element and its ancestors. Stylesheets are not evaluated.
func isElementHidden(s *goquery.Selection) bool {
	hidingClasses := []string{"hide", "hidden", "display-none", "d-none", "invisible", "is-hidden", "sr-only", "visually-hidden"}

	for n := s; n.Length() > 0 && !n.Is("body"); n = n.Parent() {
		if _, exists := n.Attr("data-hidden"); exists {
			return true
		}
		if ariaHidden, exists := n.Attr("aria-hidden"); exists && ariaHidden == "true" {
			return true
		}
		if style, exists := n.Attr("style"); exists {
			style = strings.ReplaceAll(style, " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
		for _, class := range hidingClasses {
			if n.HasClass(class) {
				return true
			}
		}
	}
	return false
}

package headless

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Detector decides whether a page that came back without usable content
// should be retried through a headless browser.
type Detector struct {
	BodyLengthThreshold int
}

// NewDetector creates a detector with the given minimum body size. A zero
// threshold selects the default.
func NewDetector(threshold int) *Detector {
	if threshold == 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var spaSelectors = []string{
	"#__next",
	"#root",
	"#app",
	"[data-reactroot]",
}

// NeedsRender reports whether body looks like a JavaScript shell rather
// than server-rendered markup.
func (d *Detector) NeedsRender(body []byte) bool {
	if len(body) == 0 {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}

	for _, sel := range spaSelectors {
		node := doc.Find(sel).First()
		if node.Length() > 0 && strings.TrimSpace(node.Text()) == "" {
			return true
		}
	}

	if len(body) < d.BodyLengthThreshold && d.scriptHeavy(doc, len(body)) {
		return true
	}
	return false
}

// scriptHeavy reports whether script tags account for a quarter or more of
// the document.
func (d *Detector) scriptHeavy(doc *goquery.Document, total int) bool {
	if total == 0 {
		return false
	}
	coverage := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		coverage += len(s.Text())
	})
	return coverage*100/total >= 25
}

// Package extract turns rendered HTML into readable text and structured
// page metadata.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/grail/internal/job"
)

const maxCodeBlocks = 20

var (
	noiseSelector   = "script, style, noscript, template, svg, iframe"
	blockSelector   = "p, div, li, h1, h2, h3, h4, h5, h6, tr, pre, blockquote, section, article, header, footer, ul, ol, table"
	contentSelector = []string{"article", "main", "[role=main]", "body"}
)

// Extractor implements job.Extractor with goquery.
type Extractor struct {
	clock job.Clock
}

// New creates an Extractor stamping metadata with clock.
func New(clock job.Clock) *Extractor {
	return &Extractor{clock: clock}
}

// Extract never fails: if the document cannot be parsed, or yields no
// readable text, it falls back to tag stripping.
func (e *Extractor) Extract(html, sourceURL string) job.Extraction {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return job.Extraction{
			Text: PlainText(html),
			Meta: e.basicMeta(html, sourceURL),
		}
	}

	meta := job.Metadata{
		Title:       documentTitle(doc),
		URL:         sourceURL,
		Canonical:   canonical(doc, sourceURL),
		Headings:    headings(doc),
		Links:       links(doc),
		CodeBlocks:  codeBlocks(doc),
		CollectedAt: e.clock.Now(),
	}

	text := readableText(doc)
	if text == "" {
		text = PlainText(html)
	}
	return job.Extraction{Text: text, Meta: meta}
}

func readableText(doc *goquery.Document) string {
	root := doc.Selection
	for _, sel := range contentSelector {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			root = found
			break
		}
	}
	root = root.Clone()
	root.Find(noiseSelector).Remove()
	root.Find("br").ReplaceWithHtml("\n")
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
		s.AppendHtml("\n")
	})
	return normalizeWhitespace(root.Text())
}

func documentTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return collapse(doc.Find("h1").First().Text())
}

func canonical(doc *goquery.Document, sourceURL string) string {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	return resolve(sourceURL, strings.TrimSpace(href))
}

func headings(doc *goquery.Document) []job.Heading {
	out := make([]job.Heading, 0)
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		out = append(out, job.Heading{
			Level: goquery.NodeName(s),
			Text:  collapse(s.Text()),
		})
	})
	return out
}

func links(doc *goquery.Document) []job.Link {
	out := make([]job.Link, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		out = append(out, job.Link{Href: href, Text: collapse(s.Text())})
	})
	return out
}

func codeBlocks(doc *goquery.Document) []string {
	var out []string
	doc.Find("pre code, code").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= maxCodeBlocks {
			return false
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
		return true
	})
	return out
}

func resolve(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

var (
	spaceRun    = regexp.MustCompile(`[\t\f\r ]+`)
	trailingWS  = regexp.MustCompile(`(?m)[\t ]+$`)
	leadingWS   = regexp.MustCompile(`(?m)^[\t ]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	anyWS       = regexp.MustCompile(`\s+`)
	nbspReplace = strings.NewReplacer("\u00a0", " ")
)

func normalizeWhitespace(s string) string {
	s = nbspReplace.Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	s = trailingWS.ReplaceAllString(s, "")
	s = leadingWS.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func collapse(s string) string {
	return strings.TrimSpace(anyWS.ReplaceAllString(s, " "))
}

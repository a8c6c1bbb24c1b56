package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/grail/internal/job"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlock   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	blockTag     = regexp.MustCompile(`(?i)</?(p|br|h[1-6]|li|div)\s*/?>`)
	anyTag       = regexp.MustCompile(`<[^>]+>`)
	titleTag     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingTag   = regexp.MustCompile(`(?is)<(h[1-6])[^>]*>(.*?)</h[1-6]>`)
	anchorTag    = regexp.MustCompile(`(?is)<a[^>]*href=["']([^"'#][^"']*)["'][^>]*>(.*?)</a>`)
	entityDecode = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ")
)

// PlainText strips markup with regular expressions. It is used when the
// document cannot be parsed or has no readable body.
func PlainText(html string) string {
	s := scriptBlock.ReplaceAllString(html, "")
	s = styleBlock.ReplaceAllString(s, "")
	s = blockTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	return normalizeWhitespace(entityDecode.Replace(s))
}

func (e *Extractor) basicMeta(html, sourceURL string) job.Metadata {
	meta := job.Metadata{
		URL:         sourceURL,
		Headings:    make([]job.Heading, 0),
		Links:       make([]job.Link, 0),
		CollectedAt: e.clock.Now(),
	}
	if m := titleTag.FindStringSubmatch(html); m != nil {
		meta.Title = strings.TrimSpace(m[1])
	}
	for _, m := range headingTag.FindAllStringSubmatch(html, -1) {
		meta.Headings = append(meta.Headings, job.Heading{
			Level: strings.ToLower(m[1]),
			Text:  collapse(anyTag.ReplaceAllString(m[2], "")),
		})
	}
	for _, m := range anchorTag.FindAllStringSubmatch(html, -1) {
		meta.Links = append(meta.Links, job.Link{
			Href: m[1],
			Text: collapse(anyTag.ReplaceAllString(m[2], "")),
		})
	}
	return meta
}

package extractor

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var (
	metaTagRe = regexp.MustCompile(`(?is)<meta\s[^>]*>`)
	attrRe    = regexp.MustCompile(`(?is)([a-z][a-z0-9:_-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title\s*>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockRe   = regexp.MustCompile(`(?i)</?(?:p|div|br|hr|h[1-6]|li|ul|ol|tr|td|th|table|section|article|main|blockquote|pre|dd|dt|figcaption)\b[^>]*>`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe   = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
	newlineRe = regexp.MustCompile(`\s*\n\s*`)
)

// strippedBlocks are elements whose whole content is dropped from the text.
var strippedBlocks = func() []*regexp.Regexp {
	tags := []string{"head", "script", "style", "noscript", "svg", "nav", "footer", "header", "aside", "template"}
	res := make([]*regexp.Regexp, 0, len(tags))
	for _, tag := range tags {
		res = append(res, regexp.MustCompile(`(?is)<`+tag+`\b[^>]*>.*?</`+tag+`\s*>`))
	}
	return res
}()

var (
	titleKeys       = []string{"og:title", "twitter:title"}
	descriptionKeys = []string{"og:description", "twitter:description", "description"}
	imageKeys       = []string{"og:image", "og:image:url", "twitter:image", "twitter:image:src"}
	siteNameKeys    = []string{"og:site_name", "application-name"}
)

// Parse derives Metadata from an HTML document fetched from pageURL.
func Parse(pageURL, doc string) Metadata {
	meta := scanMeta(doc)

	md := Metadata{
		Title:       firstOf(meta, titleKeys),
		Description: firstOf(meta, descriptionKeys),
		SiteName:    firstOf(meta, siteNameKeys),
		Image:       resolveImage(pageURL, firstOf(meta, imageKeys)),
		Text:        ExtractText(doc),
	}
	if md.Title == "" {
		if m := titleRe.FindStringSubmatch(doc); len(m) > 1 {
			md.Title = cleanInline(m[1])
		}
	}
	return md
}

// scanMeta collects meta tag values keyed by lower-cased property or name.
// Attribute order inside the tag does not matter. The first value for a key wins.
func scanMeta(doc string) map[string]string {
	out := make(map[string]string)
	for _, tag := range metaTagRe.FindAllString(doc, -1) {
		attrs := make(map[string]string, 3)
		for _, m := range attrRe.FindAllStringSubmatch(tag, -1) {
			val := m[2]
			if val == "" {
				val = m[3]
			}
			attrs[strings.ToLower(m[1])] = val
		}

		content := cleanInline(attrs["content"])
		if content == "" {
			continue
		}
		for _, k := range []string{attrs["property"], attrs["name"]} {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if _, ok := out[k]; !ok {
				out[k] = content
			}
		}
	}
	return out
}

func firstOf(meta map[string]string, keys []string) string {
	for _, k := range keys {
		if v := meta[k]; v != "" {
			return v
		}
	}
	return ""
}

// resolveImage makes ref absolute against pageURL. Anything that does not
// resolve to an http(s) URL is dropped.
func resolveImage(pageURL, ref string) string {
	if ref == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// ExtractText turns an HTML document into plain text: non-content blocks,
// comments and tags are removed, entities decoded and whitespace collapsed.
// Line breaks survive so callers can pick out the first line.
func ExtractText(doc string) string {
	s := commentRe.ReplaceAllString(doc, " ")
	for _, re := range strippedBlocks {
		s = re.ReplaceAllString(s, " ")
	}
	s = blockRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = newlineRe.ReplaceAllString(s, "\n")
	s = strings.TrimSpace(s)
	return truncateRunes(s, maxTextRunes)
}

func cleanInline(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

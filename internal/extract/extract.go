// internal/extract/extract.go
// Package extract pulls the single best media URL out of a vendor download
// page. Booth vendors share no markup convention, so extraction is a fixed,
// ordered set of heuristics rather than general scraping: the first strategy
// that yields a usable, non-self-referential URL wins.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// imageExtensions are the href suffixes treated as explicit image links.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// jsonLDImageURL matches absolute image URLs inside ld+json script blocks.
var jsonLDImageURL = regexp.MustCompile(`https?://[^\s"'\\]+?\.(?:jpe?g|png|webp)`)

// Extract parses doc and returns the best candidate media URL, resolved
// against base. The boolean is false when no strategy produced a usable URL.
//
// Strategies are tried in fixed priority order:
//  1. download-style anchors
//  2. <picture> <source> srcset (largest declared width)
//  3. <img> srcset (largest declared width)
//  4. image URLs inside application/ld+json blocks (longest match)
//  5. <video> poster, then its nested <source src>
//  6. og:image / itemprop=image meta content
//  7. first <img src>
//
// A candidate whose host and path equal the base page's own host and path is
// discarded: some vendors link the download page to itself, and following
// that would loop forever.
func Extract(doc []byte, base *url.URL) (*url.URL, bool) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		// html.Parse recovers from almost anything; a hard failure means the
		// input is not usable as a document at all.
		return nil, false
	}

	strategies := []func(*html.Node) string{
		downloadAnchor,
		pictureSource,
		imgSrcset,
		jsonLDImage,
		videoPoster,
		metaImage,
		firstImg,
	}

	for _, strategy := range strategies {
		raw := strategy(root)
		if raw == "" {
			continue
		}
		resolved, err := base.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if isSelfReference(resolved, base) {
			continue
		}
		return resolved, true
	}
	return nil, false
}

// isSelfReference reports whether candidate points back at the page it was
// extracted from (same host, same path).
func isSelfReference(candidate, base *url.URL) bool {
	return strings.EqualFold(candidate.Hostname(), base.Hostname()) && candidate.Path == base.Path
}

// downloadAnchor finds an anchor that looks like an explicit download link:
// a download attribute, "download" in the href, or an image-extension suffix.
func downloadAnchor(root *html.Node) string {
	var found string
	walk(root, func(n *html.Node) bool {
		if n.Data != "a" {
			return true
		}
		href := attr(n, "href")
		if href == "" {
			return true
		}
		if hasAttr(n, "download") || strings.Contains(strings.ToLower(href), "download") || hasImageExtension(href) {
			found = href
			return false
		}
		return true
	})
	return found
}

// pictureSource picks a <source> inside the first <picture> that has one,
// preferring a JPEG-typed source, and returns the widest srcset entry.
func pictureSource(root *html.Node) string {
	var found string
	walk(root, func(n *html.Node) bool {
		if n.Data != "picture" {
			return true
		}
		var jpegSource, anySource *html.Node
		walk(n, func(child *html.Node) bool {
			if child.Data != "source" || attr(child, "srcset") == "" {
				return true
			}
			typ := strings.ToLower(attr(child, "type"))
			if typ == "image/jpeg" || typ == "image/jpg" {
				if jpegSource == nil {
					jpegSource = child
				}
			}
			if anySource == nil {
				anySource = child
			}
			return true
		})
		source := jpegSource
		if source == nil {
			source = anySource
		}
		if source != nil {
			found = widestSrcsetEntry(attr(source, "srcset"))
		}
		return found == ""
	})
	return found
}

// imgSrcset returns the widest srcset entry of the first <img> carrying one.
func imgSrcset(root *html.Node) string {
	var found string
	walk(root, func(n *html.Node) bool {
		if n.Data == "img" {
			if srcset := attr(n, "srcset"); srcset != "" {
				found = widestSrcsetEntry(srcset)
				return found == ""
			}
		}
		return true
	})
	return found
}

// jsonLDImage scans application/ld+json script blocks for absolute image
// URLs and returns the longest match. Longer URLs tend to be the more
// specific variant when a block lists several.
func jsonLDImage(root *html.Node) string {
	var longest string
	walk(root, func(n *html.Node) bool {
		if n.Data != "script" || !strings.EqualFold(attr(n, "type"), "application/ld+json") {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.TextNode {
				continue
			}
			for _, match := range jsonLDImageURL.FindAllString(c.Data, -1) {
				if len(match) > len(longest) {
					longest = match
				}
			}
		}
		return true
	})
	return longest
}

// videoPoster returns the first <video> poster, falling back to the src of a
// <source> nested inside it.
func videoPoster(root *html.Node) string {
	var found string
	walk(root, func(n *html.Node) bool {
		if n.Data != "video" {
			return true
		}
		if poster := attr(n, "poster"); poster != "" {
			found = poster
			return false
		}
		walk(n, func(child *html.Node) bool {
			if child.Data == "source" {
				if src := attr(child, "src"); src != "" {
					found = src
					return false
				}
			}
			return true
		})
		return found == ""
	})
	return found
}

// metaImage returns the content of an Open-Graph or itemprop=image meta tag.
func metaImage(root *html.Node) string {
	var found string
	walk(root, func(n *html.Node) bool {
		if n.Data != "meta" {
			return true
		}
		prop := strings.ToLower(attr(n, "property"))
		name := strings.ToLower(attr(n, "name"))
		itemprop := strings.ToLower(attr(n, "itemprop"))
		if prop == "og:image" || name == "og:image" || itemprop == "image" {
			if content := attr(n, "content"); content != "" {
				found = content
				return false
			}
		}
		return true
	})
	return found
}

// firstImg returns the first <img src> in the document. Last resort.
func firstImg(root *html.Node) string {
	var found string
	walk(root, func(n *html.Node) bool {
		if n.Data == "img" {
			if src := attr(n, "src"); src != "" {
				found = src
				return false
			}
		}
		return true
	})
	return found
}

// widestSrcsetEntry parses a srcset attribute and returns the URL of the
// candidate with the largest declared width. Entries with no width
// descriptor are least-preferred (width -1).
func widestSrcsetEntry(srcset string) string {
	bestURL := ""
	bestWidth := -2
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		width := -1
		if len(fields) > 1 {
			descriptor := fields[len(fields)-1]
			if strings.HasSuffix(descriptor, "w") {
				if w, err := strconv.Atoi(strings.TrimSuffix(descriptor, "w")); err == nil {
					width = w
				}
			}
		}
		if width > bestWidth {
			bestWidth = width
			bestURL = fields[0]
		}
	}
	return bestURL
}

// hasImageExtension reports whether the href path ends in a known image
// extension, ignoring any query string.
func hasImageExtension(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexByte(lower, '?'); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// walk visits element nodes depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode {
		if !fn(n) {
			return false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// attr returns the value of the named attribute, or empty.
func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// hasAttr reports whether the node carries the named attribute at all,
// regardless of value (the download attribute is usually valueless).
func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

package scraper

import (
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

const (
	imageClass = "img-comic"
	titleClass = "comic-title-name"
)

var (
	ErrNoImage     = errors.New("comic image element not found")
	ErrBadImageURL = errors.New("comic image has no usable url")
)

// Page is the metadata found on one strip page. Width and Height are zero
// when the page does not state them.
type Page struct {
	Title    string
	ImageURL string
	Width    int
	Height   int
}

// ParsePage extracts the strip from a source page. Relative image URLs are
// resolved against pageURL. Any error means the page is malformed.
func ParsePage(r io.Reader, pageURL *url.URL) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}

	img := findByClass(doc, imageClass)
	if img == nil {
		return nil, ErrNoImage
	}

	src := attr(img, "src")
	if src == "" {
		src = attr(img, "data-src")
	}

	imageURL, err := resolve(pageURL, src)
	if err != nil {
		return nil, err
	}

	page := &Page{
		ImageURL: imageURL,
		Width:    dimension(attr(img, "width")),
		Height:   dimension(attr(img, "height")),
	}

	if title := findByClass(doc, titleClass); title != nil {
		page.Title = strings.Join(strings.Fields(text(title)), " ")
	}

	return page, nil
}

func resolve(base *url.URL, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", ErrBadImageURL
	}

	ref, err := url.Parse(src)
	if err != nil {
		return "", errors.Wrapf(ErrBadImageURL, "%q: %v", src, err)
	}

	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}

	if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
		return "", errors.Wrapf(ErrBadImageURL, "%q", src)
	}

	return abs.String(), nil
}

func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// dimension parses "900" or "900px", returning 0 for anything unusable.
func dimension(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

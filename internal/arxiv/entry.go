package arxiv

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// Entry is one normalized bibliographic item from a result set.
type Entry struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Summary         string   `json:"summary"`
	Published       string   `json:"published"`
	Categories      []string `json:"categories"`
	PrimaryCategory string   `json:"primary_category,omitempty"`
	DOI             string   `json:"doi,omitempty"`
	Comment         string   `json:"comment,omitempty"`
	DocumentID      string   `json:"document_id,omitempty"`
	DocumentURL     string   `json:"document_url,omitempty"`
	SourceReference string   `json:"source_reference"`
}

// Counts summarizes a result set.
type Counts struct {
	Total    int
	Returned int
}

// ParseFile parses a saved result set; the path becomes each entry's source reference.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result set: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse turns an Atom result document into entries. A document without
// entries yields an empty slice.
func Parse(r io.Reader, source string) ([]Entry, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing result set: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, parseItem(item, source))
	}
	return entries, nil
}

// ParseCounts reads opensearch:totalResults and the number of returned entries.
func ParseCounts(r io.Reader) (Counts, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return Counts{}, fmt.Errorf("parsing result set: %w", err)
	}

	c := Counts{Returned: len(feed.Items)}
	if v := extensionValue(feed.Extensions, "opensearch", "totalResults"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Total = n
		}
	}
	return c, nil
}

func parseItem(item *gofeed.Item, source string) Entry {
	e := Entry{
		Title:           strings.TrimSpace(item.Title),
		Summary:         strings.TrimSpace(item.Description),
		Published:       strings.TrimSpace(item.Published),
		Authors:         []string{},
		Categories:      uniqueNonEmpty(item.Categories),
		SourceReference: source,
	}

	for _, a := range item.Authors {
		if a == nil {
			continue
		}
		if name := strings.TrimSpace(a.Name); name != "" {
			e.Authors = append(e.Authors, name)
		}
	}

	if v := extensionAttr(item.Extensions, "arxiv", "primary_category", "term"); v != "" {
		e.PrimaryCategory = v
	}
	e.DOI = extensionValue(item.Extensions, "arxiv", "doi")
	e.Comment = extensionValue(item.Extensions, "arxiv", "comment")

	e.DocumentID, e.DocumentURL = documentRef(strings.TrimSpace(item.GUID))
	return e
}

// documentRef derives the document id and PDF URL from an abstract URL such
// as http://arxiv.org/abs/2101.00001v1.
func documentRef(idURL string) (id, pdfURL string) {
	if idURL == "" {
		return "", ""
	}

	if i := strings.Index(idURL, "/abs/"); i >= 0 {
		ref := strings.Trim(idURL[i+len("/abs/"):], "/")
		if ref == "" {
			return "", ""
		}
		// Old-style references keep their archive prefix in the URL only.
		return ref[strings.LastIndex(ref, "/")+1:], idURL[:i] + "/pdf/" + ref + ".pdf"
	}

	trimmed := strings.TrimRight(idURL, "/")
	id = trimmed[strings.LastIndex(trimmed, "/")+1:]
	if id == "" {
		return "", ""
	}
	return id, "http://arxiv.org/pdf/" + id + ".pdf"
}

func uniqueNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func extensionValue(exts ext.Extensions, prefix, name string) string {
	if e, ok := firstExtension(exts, prefix, name); ok {
		return strings.TrimSpace(e.Value)
	}
	return ""
}

func extensionAttr(exts ext.Extensions, prefix, name, attr string) string {
	if e, ok := firstExtension(exts, prefix, name); ok {
		return strings.TrimSpace(e.Attrs[attr])
	}
	return ""
}

func firstExtension(exts ext.Extensions, prefix, name string) (ext.Extension, bool) {
	if exts == nil {
		return ext.Extension{}, false
	}
	list := exts[prefix][name]
	if len(list) == 0 {
		return ext.Extension{}, false
	}
	return list[0], true
}

// Package opml reads and writes OPML source lists for the relay.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (category or source).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Source is one RSS source the relay should poll. Category is the
// enclosing outline's label and becomes a tag on ingested items.
type Source struct {
	Title    string
	URL      string
	Category string
}

// Parse reads an OPML document and returns a flat source list. Nested
// outlines flatten to the innermost category label.
func Parse(r io.Reader) ([]Source, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var sources []Source
	var walk func(outlines []Outline, category string)
	walk = func(outlines []Outline, category string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				if title == "" {
					title = o.XMLURL
				}
				sources = append(sources, Source{
					Title:    title,
					URL:      o.XMLURL,
					Category: category,
				})
				continue
			}
			label := o.Text
			if label == "" {
				label = o.Title
			}
			walk(o.Outlines, label)
		}
	}
	walk(doc.Body.Outlines, "")
	return sources, nil
}

// Export serializes a source list grouped by category into OPML.
func Export(title string, sources []Source) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	byCategory := make(map[string][]Outline)
	var order []string
	for _, s := range sources {
		o := Outline{
			Text:   s.Title,
			Title:  s.Title,
			Type:   "rss",
			XMLURL: s.URL,
		}
		if _, ok := byCategory[s.Category]; !ok {
			order = append(order, s.Category)
		}
		byCategory[s.Category] = append(byCategory[s.Category], o)
	}

	for _, cat := range order {
		if cat == "" {
			doc.Body.Outlines = append(doc.Body.Outlines, byCategory[cat]...)
			continue
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:     cat,
			Title:    cat,
			Outlines: byCategory[cat],
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

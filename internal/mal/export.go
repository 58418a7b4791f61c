// Package mal reads MyAnimeList XML list exports.
package mal

import (
	"bufio"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrInvalidExport = errors.New("mal: not a valid MyAnimeList anime export")

// Export is a parsed list export.
type Export struct {
	User    string
	Records []Record
}

// Record is one <anime> element, keyed by child element name.
type Record struct {
	Fields map[string]string
}

func (r Record) Get(name string) string { return r.Fields[name] }

// AnimeID is the MAL series id, or 0 if missing.
func (r Record) AnimeID() int {
	n, err := strconv.Atoi(r.Get("series_animedb_id"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (r Record) Title() string { return r.Get("series_title") }

// Raw returns the record as a loosely typed map the entry normalizer accepts.
func (r Record) Raw() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

type element struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type group struct {
	Children []element `xml:",any"`
}

var gzipMagic = []byte{0x1f, 0x8b}

// Parse reads an export, transparently inflating gzip input as MAL serves it.
func Parse(r io.Reader) (*Export, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(2); err == nil && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}
		defer zr.Close()
		return parseXML(zr)
	}
	return parseXML(br)
}

func parseXML(r io.Reader) (*Export, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	root, err := firstElement(dec)
	if err != nil {
		return nil, err
	}
	if root.Name.Local != "myanimelist" {
		return nil, fmt.Errorf("%w: unexpected root <%s>", ErrInvalidExport, root.Name.Local)
	}

	exp := &Export{}
	sawManga := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: unterminated document", ErrInvalidExport)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var g group
			if err := dec.DecodeElement(&g, &t); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
			}
			switch t.Name.Local {
			case "myinfo":
				exp.User = fields(g)["user_name"]
			case "anime":
				exp.Records = append(exp.Records, Record{Fields: fields(g)})
			case "manga":
				sawManga = true
			}
		case xml.EndElement:
			if len(exp.Records) == 0 {
				if sawManga {
					return nil, fmt.Errorf("%w: manga list exports are not supported", ErrInvalidExport)
				}
				return nil, fmt.Errorf("%w: no anime entries", ErrInvalidExport)
			}
			return exp, nil
		}
	}
}

func firstElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func fields(g group) map[string]string {
	m := make(map[string]string, len(g.Children))
	for _, c := range g.Children {
		m[c.XMLName.Local] = strings.TrimSpace(c.Value)
	}
	return m
}

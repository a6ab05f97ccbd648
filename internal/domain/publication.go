// Package domain provides the domain model and error taxonomy of the research trend service.
package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// listSeparator joins the list-valued columns (authors, ids, ref_ids) of the
// legacy store layout.
const listSeparator = ","

// Publication is a bibliographic record as retrieved from the external source.
// Publications are immutable once stored and keyed by ID.
type Publication struct {
	ID       uint64   `json:"id"`
	Year     int      `json:"year"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Source   string   `json:"source,omitempty"`
	Language string   `json:"language,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	RefIDs   []uint64 `json:"ref_ids,omitempty"`
}

// Text returns the title and abstract joined for term extraction.
func (p *Publication) Text() string {
	if p.Abstract == "" {
		return p.Title
	}
	return p.Title + " " + p.Abstract
}

// Cites reports whether the publication references id.
func (p *Publication) Cites(id uint64) bool {
	for _, ref := range p.RefIDs {
		if ref == id {
			return true
		}
	}
	return false
}

// PublicationSet indexes publications by ID.
type PublicationSet map[uint64]Publication

// IDs returns the set's IDs in ascending order.
func (s PublicationSet) IDs() []uint64 {
	ids := make([]uint64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RefIDUnion returns the sorted union of all reference IDs in the set.
func (s PublicationSet) RefIDUnion() []uint64 {
	seen := make(map[uint64]struct{})
	for _, p := range s {
		for _, ref := range p.RefIDs {
			seen[ref] = struct{}{}
		}
	}
	refs := make([]uint64, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// NewPublicationSet builds a set from a slice. Later duplicates win.
func NewPublicationSet(pubs []Publication) PublicationSet {
	set := make(PublicationSet, len(pubs))
	for _, p := range pubs {
		set[p.ID] = p
	}
	return set
}

// EncodeIDs joins ids into the delimiter-separated text stored in list columns.
func EncodeIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, listSeparator)
}

// DecodeIDs parses a list column written by EncodeIDs. Empty input yields an empty slice.
func DecodeIDs(s string) ([]uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []uint64{}, nil
	}
	parts := strings.Split(s, listSeparator)
	ids := make([]uint64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodeAuthors joins author names. Separators inside a name are replaced by spaces
// so the list decodes back to the same number of entries.
func EncodeAuthors(authors []string) string {
	clean := make([]string, len(authors))
	for i, a := range authors {
		clean[i] = strings.TrimSpace(strings.ReplaceAll(a, listSeparator, " "))
	}
	return strings.Join(clean, listSeparator)
}

// DecodeAuthors splits an authors column.
func DecodeAuthors(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, listSeparator)
	authors := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			authors = append(authors, part)
		}
	}
	return authors
}

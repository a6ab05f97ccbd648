// Package openalex provides a client for the OpenAlex works API.
//
// OpenAlex is a free, open catalog of scholarly works. This package implements
// papersources.PublicationSource: keyword searches restricted to one publication
// year with cursor paging, and batch resolution of works by id for the citation
// frontier.
//
// API Documentation: https://docs.openalex.org/
package openalex

// SearchResponse represents the top-level response of the /works endpoint.
type SearchResponse struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`
}

// Meta contains result metadata including the cursor of the next page.
type Meta struct {
	Count      int     `json:"count"`
	DBTime     int     `json:"db_response_time_ms"`
	PerPage    int     `json:"per_page"`
	NextCursor *string `json:"next_cursor"`
}

// Work is the subset of an OpenAlex work the service reads.
type Work struct {
	ID              string       `json:"id"`
	DisplayName     string       `json:"display_name"`
	Title           string       `json:"title"`
	PublicationYear int          `json:"publication_year"`
	Language        string       `json:"language"`
	Authorships     []Authorship `json:"authorships"`
	PrimaryLocation *Location    `json:"primary_location"`
	ReferencedWorks []string     `json:"referenced_works"`

	// AbstractInvertedIndex maps each abstract word to its positions.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// Authorship represents an author's contribution to a work.
type Authorship struct {
	AuthorPosition string     `json:"author_position"`
	Author         AuthorInfo `json:"author"`
}

// AuthorInfo contains basic author information.
type AuthorInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Location represents where a work is published.
type Location struct {
	Source *Source `json:"source"`
}

// Source represents a publication venue.
type Source struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

// selectFields limits responses to the fields of Work.
const selectFields = "id,display_name,title,publication_year,language,authorships," +
	"primary_location,referenced_works,abstract_inverted_index"

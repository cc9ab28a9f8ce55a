package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Category    string `json:"category"`
	Difficulty  string `json:"difficulty"`
	IsPublished bool   `json:"isPublished"`
}

// Query describes a search request.
type Query struct {
	Text          string
	Category      string // empty = all categories
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SmellRecord is the data we index for a smell.
type SmellRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Category    string `json:"category"`
	Difficulty  string `json:"difficulty"`
	IsPublished bool   `json:"isPublished"`
}

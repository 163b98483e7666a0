package serp

// ResultType classifies a listing entry as an organic hit or as a hit for a
// query the search engine substituted for the original one.
type ResultType string

const (
	ResultOrganic   ResultType = "ORGANIC"
	ResultSuggested ResultType = "SUGGESTED"
)

// Result is one candidate entry parsed from a search results page.
type Result struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Rank        int        `json:"rank,omitempty"` // 1-based, zero until accepted
	Type        ResultType `json:"resultType"`
}

type resultKey struct {
	title string
	url   string
}

// Dedup drops results whose (title, url) pair was already seen, keeping the
// first occurrence and the order of first appearances.
func Dedup(results []Result) []Result {
	seen := make(map[resultKey]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		k := resultKey{title: r.Title, url: r.URL}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

package context

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9]*`)

// stopwords mirrors generate-context-router.py's keyword-extraction
// stopword list exactly, so routes built by that generator and keywords
// tokenized here use the same vocabulary.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "shall": true, "can": true,
	"need": true, "must": true, "it": true, "its": true, "this": true, "that": true,
	"these": true, "those": true, "not": true, "no": true, "nor": true, "so": true,
	"if": true, "then": true, "than": true, "when": true, "where": true, "how": true,
	"what": true, "which": true, "who": true, "whom": true, "all": true, "each": true,
	"every": true, "both": true, "few": true, "more": true, "most": true, "other": true,
	"some": true, "such": true, "only": true, "own": true, "same": true, "too": true,
	"very": true, "just": true, "about": true, "above": true, "after": true, "again": true,
	"also": true, "any": true, "as": true, "because": true, "before": true, "between": true,
	"during": true, "into": true, "over": true, "through": true, "under": true, "until": true,
	"up": true, "while": true, "use": true, "used": true, "using": true,
}

// Tokenize extracts lowercase alphanumeric words longer than 2 chars,
// excluding stopwords — the keyword set used for both route generation
// and tool-input matching.
func Tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) > 2 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

// Jaccard computes |a ∩ b| / |a ∪ b|, 0 if either set is empty.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// FindBestMatch scores every route's keyword set against inputKeywords
// and returns the highest-scoring route at or above threshold, or
// (nil, 0) if none qualifies. Ties keep the first route encountered.
func FindBestMatch(routes []Route, inputKeywords map[string]bool, threshold float64) (*Route, float64) {
	var best *Route
	bestScore := 0.0
	for i := range routes {
		routeKeywords := map[string]bool{}
		for _, k := range routes[i].Keywords {
			routeKeywords[k] = true
		}
		score := Jaccard(inputKeywords, routeKeywords)
		if score >= threshold && score > bestScore {
			bestScore = score
			best = &routes[i]
		}
	}
	return best, bestScore
}

// toolInputTextFields lists the tool_input keys searched for matchable
// text, in the reference implementation's order.
var toolInputTextFields = []string{"file_path", "content", "old_string", "new_string", "command", "prompt", "description", "pattern"}

// ExtractToolInputText pulls the searchable string fields out of a tool
// call's input payload for keyword extraction.
func ExtractToolInputText(toolInput map[string]interface{}) string {
	var parts []string
	for _, key := range toolInputTextFields {
		if v, ok := toolInput[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

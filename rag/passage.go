package rag

// PassageMetadata carries the structured metadata a passage was indexed
// with. Keyword and topic order is preserved as indexed.
type PassageMetadata struct {
	Keywords []string `json:"keywords,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

// Passage is one retrieved unit of supporting text. Instances are
// immutable once produced by a search call and live for a single query.
type Passage struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Content    string          `json:"content"`
	Similarity float64         `json:"similarity"` // calibrated, in (0, 1]
	Metadata   PassageMetadata `json:"metadata"`
}

// MeanSimilarity returns the average similarity over passages, or 0 for an
// empty set.
func MeanSimilarity(passages []Passage) float64 {
	if len(passages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range passages {
		sum += p.Similarity
	}
	return sum / float64(len(passages))
}

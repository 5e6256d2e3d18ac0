package analysis

import "context"

// Length bounds applied to the trimmed input text, in characters.
const (
	MinTextLength = 50
	MaxTextLength = 10000
)

// DetectionRequest is the payload handed to a detection engine.
type DetectionRequest struct {
	Text string `json:"text"`
}

// Match is one snippet of the submitted text that overlaps an external source.
type Match struct {
	Text       string  `json:"text" validate:"required"`
	Source     string  `json:"source" validate:"required,url"`
	Similarity float64 `json:"similarity" validate:"gte=0,lte=100"`
}

// Report is the structured result of a plagiarism check.
type Report struct {
	Analysis        string  `json:"analysis"`
	PlagiarismScore float64 `json:"plagiarismScore" validate:"gte=0,lte=100"`
	UniquenessScore float64 `json:"uniquenessScore" validate:"gte=0,lte=100"`
	Matches         []Match `json:"matches" validate:"required,dive"`
}

// Clean reports whether no matches were found.
func (r Report) Clean() bool {
	return len(r.Matches) == 0
}

// ScoresConsistent reports whether the two scores roughly sum to 100.
func (r Report) ScoresConsistent(tolerance float64) bool {
	sum := r.PlagiarismScore + r.UniquenessScore
	return sum >= 100-tolerance && sum <= 100+tolerance
}

// clone returns a copy that shares no slices with r.
func (r Report) clone() Report {
	matches := make([]Match, len(r.Matches))
	copy(matches, r.Matches)
	r.Matches = matches
	return r
}

// Detector is the external engine that decides whether and where plagiarism exists.
// Implementations return the engine's answer as-is; callers validate it.
type Detector interface {
	Detect(ctx context.Context, req DetectionRequest) (*Report, error)
	Name() string
}

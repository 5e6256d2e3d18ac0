package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReport() Report {
	return Report{
		Analysis:        "Portions of the text closely follow [Wikipedia](https://en.wikipedia.org/wiki/Go).",
		PlagiarismScore: 42.5,
		UniquenessScore: 57.5,
		Matches: []Match{
			{Text: "Go is a statically typed language", Source: "https://en.wikipedia.org/wiki/Go", Similarity: 91},
			{Text: "designed at Google", Source: "https://go.dev/doc/faq", Similarity: 64.4},
		},
	}
}

func cleanReport() Report {
	return Report{
		Analysis:        "No overlapping content was found.",
		PlagiarismScore: 0,
		UniquenessScore: 100,
		Matches:         []Match{},
	}
}

func violatedFields(t *testing.T, err error) []string {
	t.Helper()
	var cerr *ContractError
	require.ErrorAs(t, err, &cerr)
	fields := make([]string, 0, len(cerr.Violations))
	for _, v := range cerr.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func TestValidateReportAccepts(t *testing.T) {
	assert.NoError(t, ValidateReport(validReport()))
	assert.NoError(t, ValidateReport(cleanReport()))

	edge := validReport()
	edge.PlagiarismScore = 100
	edge.UniquenessScore = 0
	edge.Matches[0].Similarity = 0
	assert.NoError(t, ValidateReport(edge))
}

func TestValidateReportRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Report)
		field  string
	}{
		{name: "plagiarism above range", mutate: func(r *Report) { r.PlagiarismScore = 100.5 }, field: "plagiarismScore"},
		{name: "uniqueness below range", mutate: func(r *Report) { r.UniquenessScore = -1 }, field: "uniquenessScore"},
		{name: "NaN score", mutate: func(r *Report) { r.PlagiarismScore = math.NaN() }, field: "plagiarismScore"},
		{name: "infinite score", mutate: func(r *Report) { r.UniquenessScore = math.Inf(1) }, field: "uniquenessScore"},
		{name: "nil matches", mutate: func(r *Report) { r.Matches = nil }, field: "matches"},
		{name: "similarity above range", mutate: func(r *Report) { r.Matches[1].Similarity = 101 }, field: "matches[1].similarity"},
		{name: "empty snippet", mutate: func(r *Report) { r.Matches[0].Text = "" }, field: "matches[0].text"},
		{name: "empty source", mutate: func(r *Report) { r.Matches[0].Source = "" }, field: "matches[0].source"},
		{name: "relative source", mutate: func(r *Report) { r.Matches[0].Source = "wiki/Go" }, field: "matches[0].source"},
		{name: "matches with zero plagiarism", mutate: func(r *Report) { r.PlagiarismScore = 0 }, field: "plagiarismScore"},
		{
			name: "clean report with nonzero plagiarism",
			mutate: func(r *Report) {
				r.Matches = []Match{}
				r.PlagiarismScore = 5
				r.UniquenessScore = 100
			},
			field: "plagiarismScore",
		},
		{
			name: "clean report with uniqueness below 100",
			mutate: func(r *Report) {
				r.Matches = []Match{}
				r.PlagiarismScore = 0
				r.UniquenessScore = 90
			},
			field: "uniquenessScore",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mutate(&r)
			err := ValidateReport(r)
			require.Error(t, err)
			assert.Contains(t, violatedFields(t, err), tt.field)
			assert.Contains(t, err.Error(), "detection contract violated")
		})
	}
}

func TestValidateReportListsEveryViolation(t *testing.T) {
	r := Report{
		PlagiarismScore: 150,
		UniquenessScore: -3,
		Matches:         []Match{{Text: "", Source: "nope", Similarity: 200}},
	}
	fields := violatedFields(t, ValidateReport(r))
	assert.ElementsMatch(t, []string{
		"plagiarismScore",
		"uniquenessScore",
		"matches[0].text",
		"matches[0].source",
		"matches[0].similarity",
	}, fields)
}

func TestParseReport(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		body := `{"analysis":"ok","plagiarismScore":12,"uniquenessScore":88,
			"matches":[{"text":"a","source":"https://example.com/a","similarity":70}]}`
		r, err := ParseReport([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "ok", r.Analysis)
		assert.Equal(t, 12.0, r.PlagiarismScore)
		require.Len(t, r.Matches, 1)
		assert.Equal(t, "https://example.com/a", r.Matches[0].Source)
	})

	t.Run("empty matches stay non-nil", func(t *testing.T) {
		r, err := ParseReport([]byte(`{"analysis":"","plagiarismScore":0,"uniquenessScore":100,"matches":[]}`))
		require.NoError(t, err)
		assert.NotNil(t, r.Matches)
		assert.Empty(t, r.Matches)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := ParseReport([]byte(`{"plagiarismScore":12}`))
		require.Error(t, err)
		assert.ElementsMatch(t, []string{"analysis", "uniquenessScore", "matches"}, violatedFields(t, err))
	})

	t.Run("null matches", func(t *testing.T) {
		_, err := ParseReport([]byte(`{"analysis":"","plagiarismScore":0,"uniquenessScore":100,"matches":null}`))
		assert.Contains(t, violatedFields(t, err), "matches")
	})

	t.Run("match missing fields", func(t *testing.T) {
		_, err := ParseReport([]byte(`{"analysis":"","plagiarismScore":5,"uniquenessScore":95,"matches":[{"text":"x"}]}`))
		assert.ElementsMatch(t, []string{"matches[0].source", "matches[0].similarity"}, violatedFields(t, err))
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := ParseReport([]byte(`{"analysis":"","plagiarismScore":"high","uniquenessScore":95,"matches":[]}`))
		assert.Contains(t, violatedFields(t, err), "plagiarismScore")
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseReport([]byte(`I think this text is original.`))
		assert.Equal(t, []string{"body"}, violatedFields(t, err))
	})
}

func TestScoresConsistent(t *testing.T) {
	assert.True(t, validReport().ScoresConsistent(1))
	r := validReport()
	r.UniquenessScore = 40
	assert.False(t, r.ScoresConsistent(1))
	assert.True(t, r.ScoresConsistent(20))
}

package analysis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundPercent(t *testing.T) {
	tests := map[float64]int{
		0:     0,
		0.4:   0,
		0.5:   1,
		42.5:  43,
		64.49: 64,
		99.5:  100,
		100:   100,
	}
	for in, want := range tests {
		assert.Equal(t, want, RoundPercent(in), in)
	}
}

func TestFormatReportWithMatches(t *testing.T) {
	got := string(FormatReport(validReport()))

	want := `Veritas AI Plagiarism Report
==============================
Plagiarism Score: 43%
Uniqueness Score: 58%
------------------------------
Analysis:
Portions of the text closely follow [Wikipedia](https://en.wikipedia.org/wiki/Go).
------------------------------
Potential Matches:
1. Go is a statically typed language
   Source: https://en.wikipedia.org/wiki/Go
   91% Match
2. designed at Google
   Source: https://go.dev/doc/faq
   64% Match
`
	assert.Equal(t, want, got)
}

func TestFormatReportRoundsMatchSimilarity(t *testing.T) {
	r := Report{
		Analysis:        "One passage follows a published article.",
		PlagiarismScore: 35,
		UniquenessScore: 65,
		Matches: []Match{
			{Text: "a passage lifted from the article", Source: "https://example.com/article", Similarity: 87.4},
		},
	}

	got := string(FormatReport(r))

	assert.True(t, strings.HasSuffix(got, "Potential Matches:\n"+
		"1. a passage lifted from the article\n"+
		"   Source: https://example.com/article\n"+
		"   87% Match\n"), got)
}

func TestFormatReportEscapesStructuralLines(t *testing.T) {
	r := Report{
		Analysis:        "Quoted:\n" + sectionRule + "\nPotential Matches:\n1. fake\n   Source: https://x.test\n   5% Match",
		PlagiarismScore: 0,
		UniquenessScore: 100,
		Matches:         []Match{},
	}

	got := string(FormatReport(r))

	assert.Equal(t, 1, strings.Count(got, "\n"+sectionRule+"\n"), "only the analysis rule is a bare rule")
	assert.Contains(t, got, "\n "+sectionRule+"\n")
	assert.Contains(t, got, "\n    Source: https://x.test\n")
}

func TestFormatReportClean(t *testing.T) {
	got := string(FormatReport(cleanReport()))

	assert.True(t, strings.HasPrefix(got, ReportTitle+"\n"))
	assert.Contains(t, got, "Plagiarism Score: 0%\n")
	assert.Contains(t, got, "Uniqueness Score: 100%\n")
	assert.NotContains(t, got, "Potential Matches")
	assert.True(t, strings.HasSuffix(got, "No overlapping content was found.\n"))
}

func TestFormatReportIsIdempotent(t *testing.T) {
	r := validReport()
	assert.True(t, bytes.Equal(FormatReport(r), FormatReport(r)))
}

func TestFormatParseRoundTrip(t *testing.T) {
	reports := map[string]Report{
		"matches": validReport(),
		"clean":   cleanReport(),
		"multiline analysis and snippet": {
			Analysis:        "First paragraph.\n\nSecond paragraph.\n",
			PlagiarismScore: 12.5,
			UniquenessScore: 87.5,
			Matches: []Match{
				{Text: "line one\nline two", Source: "https://example.com/x", Similarity: 50},
			},
		},
		"analysis that looks like a matches section": {
			Analysis:        "Quoted:\n------------------------------\nPotential Matches:\n1. fake",
			PlagiarismScore: 30,
			UniquenessScore: 70,
			Matches: []Match{
				{Text: "real snippet", Source: "https://example.com/real", Similarity: 30.2},
			},
		},
		"clean report quoting a matches section": {
			Analysis:        "Quoted:\n------------------------------\nPotential Matches:\n1. fake\n   Source: https://x\n   5% Match",
			PlagiarismScore: 0,
			UniquenessScore: 100,
			Matches:         []Match{},
		},
		"snippet quoting a source line": {
			Analysis:        "  indented analysis\n    deeper\n ------------------------------",
			PlagiarismScore: 40,
			UniquenessScore: 60,
			Matches: []Match{
				{Text: "first\n   Source: https://forged.example\n   99% Match\n2. second", Source: "https://example.com/a", Similarity: 40},
				{Text: "   leading spaces", Source: "https://example.com/b", Similarity: 12.6},
			},
		},
		"empty analysis": {
			Analysis:        "",
			PlagiarismScore: 0,
			UniquenessScore: 100,
			Matches:         []Match{},
		},
	}

	for name, r := range reports {
		t.Run(name, func(t *testing.T) {
			parsed, err := ParseFormattedReport(FormatReport(r))
			require.NoError(t, err)

			assert.Equal(t, RoundPercent(r.PlagiarismScore), parsed.PlagiarismScore)
			assert.Equal(t, RoundPercent(r.UniquenessScore), parsed.UniquenessScore)
			assert.Equal(t, r.Analysis, parsed.Analysis)
			require.Len(t, parsed.Matches, len(r.Matches))
			for i, m := range r.Matches {
				assert.Equal(t, m.Text, parsed.Matches[i].Text)
				assert.Equal(t, m.Source, parsed.Matches[i].Source)
				assert.Equal(t, RoundPercent(m.Similarity), parsed.Matches[i].Similarity)
			}
		})
	}
}

func TestParseFormattedReportRejectsGarbage(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":          "",
		"no newline":     ReportTitle,
		"wrong title":    "Some Other Report\n==============================\n",
		"bad score":      ReportTitle + "\n==============================\nPlagiarism Score: high%\nUniqueness Score: 1%\n------------------------------\nAnalysis:\n\n",
		"missing header": ReportTitle + "\n==============================\nPlagiarism Score: 1%\nUniqueness Score: 99%\n",
		"rule without matches header": ReportTitle + "\n==============================\nPlagiarism Score: 1%\nUniqueness Score: 99%\n------------------------------\nAnalysis:\nx\n------------------------------\nSomething else\n",
		"match without similarity": ReportTitle + "\n==============================\nPlagiarism Score: 1%\nUniqueness Score: 99%\n------------------------------\nAnalysis:\nx\n------------------------------\nPotential Matches:\n1. snippet\n   Source: https://example.com\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFormattedReport([]byte(doc))
			assert.Error(t, err)
		})
	}
}

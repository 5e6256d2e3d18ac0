package analysis

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

const (
	// ReportFilename is the download name of a formatted report.
	ReportFilename = "veritas-ai-report.txt"
	// ReportTitle is the first line of every formatted report.
	ReportTitle = "Veritas AI Plagiarism Report"

	titleRule     = "=============================="
	sectionRule   = "------------------------------"
	matchesHeader = "Potential Matches:"

	plagiarismPrefix = "Plagiarism Score: "
	uniquenessPrefix = "Uniqueness Score: "
	matchIndent      = "   "
	sourcePrefix     = matchIndent + "Source: "
	similaritySuffix = "% Match"
)

// RoundPercent rounds half away from zero, the policy for every percentage
// shown in a report.
func RoundPercent(v float64) int {
	return int(math.Round(v))
}

// FormatReport renders r as the plain-text report document. The output
// depends only on r.
func FormatReport(r Report) []byte {
	var b strings.Builder

	b.WriteString(ReportTitle + "\n")
	b.WriteString(titleRule + "\n")
	fmt.Fprintf(&b, "%s%d%%\n", plagiarismPrefix, RoundPercent(r.PlagiarismScore))
	fmt.Fprintf(&b, "%s%d%%\n", uniquenessPrefix, RoundPercent(r.UniquenessScore))
	b.WriteString(sectionRule + "\n")
	b.WriteString("Analysis:\n")
	b.WriteString(escapeContent(r.Analysis))
	b.WriteString("\n")

	if len(r.Matches) > 0 {
		b.WriteString(sectionRule + "\n")
		b.WriteString(matchesHeader + "\n")
		for i, m := range r.Matches {
			fmt.Fprintf(&b, "%d. %s\n", i+1, escapeContent(m.Text))
			b.WriteString(sourcePrefix + m.Source + "\n")
			fmt.Fprintf(&b, "%s%d%s\n", matchIndent, RoundPercent(m.Similarity), similaritySuffix)
		}
	}

	return []byte(b.String())
}

// ParsedMatch is a match as recovered from a formatted report.
type ParsedMatch struct {
	Text       string
	Source     string
	Similarity int
}

// ParsedReport holds the structured fields recovered from a formatted
// report. Scores are the rounded values that were printed.
type ParsedReport struct {
	PlagiarismScore int
	UniquenessScore int
	Analysis        string
	Matches         []ParsedMatch
}

// ParseFormattedReport reads back a document produced by FormatReport.
func ParseFormattedReport(doc []byte) (*ParsedReport, error) {
	text := string(doc)
	if !strings.HasSuffix(text, "\n") {
		return nil, fmt.Errorf("report does not end with a newline")
	}

	lines := strings.SplitN(text, "\n", 7)
	if len(lines) < 7 {
		return nil, fmt.Errorf("report is truncated: %d header lines", len(lines))
	}
	if lines[0] != ReportTitle || lines[1] != titleRule {
		return nil, fmt.Errorf("missing report title")
	}

	plagiarism, err := parsePercent(lines[2], plagiarismPrefix, "%")
	if err != nil {
		return nil, fmt.Errorf("plagiarism score: %w", err)
	}
	uniqueness, err := parsePercent(lines[3], uniquenessPrefix, "%")
	if err != nil {
		return nil, fmt.Errorf("uniqueness score: %w", err)
	}
	if lines[4] != sectionRule || lines[5] != "Analysis:" {
		return nil, fmt.Errorf("missing analysis section")
	}

	parsed := &ParsedReport{
		PlagiarismScore: plagiarism,
		UniquenessScore: uniqueness,
	}

	// Content lines never render as a bare section rule, so the first rule
	// in the body is the start of the matches section.
	body := strings.Split(strings.TrimSuffix(lines[6], "\n"), "\n")
	rule := slices.Index(body, sectionRule)
	if rule < 0 {
		parsed.Analysis = unescapeContent(strings.Join(body, "\n"))
		return parsed, nil
	}
	if rule+1 >= len(body) || body[rule+1] != matchesHeader {
		return nil, fmt.Errorf("missing matches header")
	}

	matches, err := parseMatches(body[rule+2:])
	if err != nil {
		return nil, err
	}
	parsed.Analysis = unescapeContent(strings.Join(body[:rule], "\n"))
	parsed.Matches = matches
	return parsed, nil
}

func parseMatches(lines []string) ([]ParsedMatch, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("matches section is empty")
	}

	var matches []ParsedMatch
	for pos := 0; pos < len(lines); {
		index := len(matches) + 1
		lead := strconv.Itoa(index) + ". "
		if !strings.HasPrefix(lines[pos], lead) {
			return nil, fmt.Errorf("match %d: expected %q at line %d", index, lead, pos)
		}

		// Snippet continuation lines are escaped, so the first Source line
		// closes the snippet.
		end := pos + 1
		for end < len(lines) && !strings.HasPrefix(lines[end], sourcePrefix) {
			end++
		}
		if end+1 >= len(lines) {
			return nil, fmt.Errorf("match %d: missing source or similarity", index)
		}

		similarity, err := parsePercent(lines[end+1], matchIndent, similaritySuffix)
		if err != nil {
			return nil, fmt.Errorf("match %d similarity: %w", index, err)
		}

		snippet := append([]string{strings.TrimPrefix(lines[pos], lead)}, lines[pos+1:end]...)
		matches = append(matches, ParsedMatch{
			Text:       unescapeContent(strings.Join(snippet, "\n")),
			Source:     strings.TrimPrefix(lines[end], sourcePrefix),
			Similarity: similarity,
		})
		pos = end + 2
	}

	return matches, nil
}

// needsEscape reports whether a content line could be mistaken for report
// structure: a section rule, or an indented Source or similarity line.
func needsEscape(line string) bool {
	return strings.HasPrefix(line, matchIndent) || strings.TrimLeft(line, " ") == sectionRule
}

// escapeContent indents every ambiguous line by one space. The mapping is
// reversible: a line that starts with a space and is ambiguous without it
// was always escaped.
func escapeContent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if needsEscape(line) {
			lines[i] = " " + line
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeContent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, " ") && needsEscape(line[1:]) {
			lines[i] = line[1:]
		}
	}
	return strings.Join(lines, "\n")
}

func parsePercent(line, prefix, suffix string) (int, error) {
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, suffix) {
		return 0, fmt.Errorf("malformed line %q", line)
	}
	return strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, prefix), suffix))
}

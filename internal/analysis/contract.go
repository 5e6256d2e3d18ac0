package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newContractValidator()

func newContractValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Violation names one broken rule of the detection contract.
type Violation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Rule
}

// ContractError is returned when an engine response does not satisfy the
// detection contract. It lists every violation found, not just the first.
type ContractError struct {
	Violations []Violation `json:"violations"`
}

func (e *ContractError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "detection contract violated: " + strings.Join(parts, "; ")
}

func (e *ContractError) add(field, rule string) {
	e.Violations = append(e.Violations, Violation{Field: field, Rule: rule})
}

func (e *ContractError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// ValidateReport checks field ranges and the clean-report invariant. The
// engine is not trusted to enforce these on its own.
func ValidateReport(r Report) error {
	cerr := &ContractError{}

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate report: %w", err)
		}
		for _, fe := range verrs {
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			cerr.add(strings.TrimPrefix(fe.Namespace(), "Report."), rule)
		}
	}

	if r.Matches != nil {
		if len(r.Matches) == 0 {
			if r.PlagiarismScore != 0 {
				cerr.add("plagiarismScore", "must be 0 when matches is empty")
			}
			if r.UniquenessScore != 100 {
				cerr.add("uniquenessScore", "must be 100 when matches is empty")
			}
		} else if r.PlagiarismScore == 0 {
			cerr.add("plagiarismScore", "must be above 0 when matches are reported")
		}
	}

	return cerr.orNil()
}

type wireMatch struct {
	Text       *string  `json:"text"`
	Source     *string  `json:"source"`
	Similarity *float64 `json:"similarity"`
}

type wireReport struct {
	Analysis        *string      `json:"analysis"`
	PlagiarismScore *float64     `json:"plagiarismScore"`
	UniquenessScore *float64     `json:"uniquenessScore"`
	Matches         *[]wireMatch `json:"matches"`
}

// ParseReport decodes an engine response body. Missing fields and fields of
// the wrong JSON type are contract violations. Ranges and invariants are
// left to ValidateReport.
func ParseReport(data []byte) (*Report, error) {
	var wire wireReport
	if err := json.Unmarshal(data, &wire); err != nil {
		cerr := &ContractError{}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			cerr.add(typeErr.Field, "type "+typeErr.Value+" is not "+typeErr.Type.String())
		} else {
			cerr.add("body", "invalid json: "+err.Error())
		}
		return nil, cerr
	}

	cerr := &ContractError{}
	if wire.Analysis == nil {
		cerr.add("analysis", "required")
	}
	if wire.PlagiarismScore == nil {
		cerr.add("plagiarismScore", "required")
	}
	if wire.UniquenessScore == nil {
		cerr.add("uniquenessScore", "required")
	}
	if wire.Matches == nil {
		cerr.add("matches", "required")
	}

	var matches []Match
	if wire.Matches != nil {
		matches = make([]Match, 0, len(*wire.Matches))
		for i, m := range *wire.Matches {
			field := fmt.Sprintf("matches[%d]", i)
			if m.Text == nil {
				cerr.add(field+".text", "required")
			}
			if m.Source == nil {
				cerr.add(field+".source", "required")
			}
			if m.Similarity == nil {
				cerr.add(field+".similarity", "required")
			}
			matches = append(matches, Match{
				Text:       deref(m.Text),
				Source:     deref(m.Source),
				Similarity: deref(m.Similarity),
			})
		}
	}

	if err := cerr.orNil(); err != nil {
		return nil, err
	}

	return &Report{
		Analysis:        *wire.Analysis,
		PlagiarismScore: *wire.PlagiarismScore,
		UniquenessScore: *wire.UniquenessScore,
		Matches:         matches,
	}, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

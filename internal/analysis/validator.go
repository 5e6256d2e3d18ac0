package analysis

import (
	"strings"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/veritas/internal/errors"
)

// Validate checks the length of text before any detection work happens.
// Surrounding whitespace does not count towards the length. It returns nil
// when text is analyzable and a validation *errors.AppError otherwise.
func Validate(text string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(text))

	switch {
	case length < MinTextLength:
		return errors.NewTooShortError(length, MinTextLength)
	case length > MaxTextLength:
		return errors.NewTooLongError(length, MaxTextLength)
	}

	return nil
}

// PrepareText returns the text that is forwarded to the engine. Trimming
// only affects validation unless forwardTrimmed is set.
func PrepareText(text string, forwardTrimmed bool) string {
	if forwardTrimmed {
		return strings.TrimSpace(text)
	}
	return text
}

package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/veritas/internal/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		tooShort bool
		tooLong  bool
	}{
		{name: "empty", input: "", tooShort: true},
		{name: "whitespace only", input: strings.Repeat(" ", 50), tooShort: true},
		{name: "49 characters", input: strings.Repeat("a", 49), tooShort: true},
		{name: "exactly 50 characters", input: strings.Repeat("a", 50)},
		{name: "padding does not count", input: "   " + strings.Repeat("a", 49) + "\n\t", tooShort: true},
		{name: "50 multibyte characters", input: strings.Repeat("é", 50)},
		{name: "exactly 10000 characters", input: strings.Repeat("a", 10000)},
		{name: "10000 characters with padding", input: "  " + strings.Repeat("a", 10000) + "  "},
		{name: "10001 characters", input: strings.Repeat("a", 10001), tooLong: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)

			switch {
			case tt.tooShort:
				require.Error(t, err)
				assert.True(t, errors.IsTooShort(err))
				assert.Equal(t, errors.MsgTooShort, errors.ToAppError(err).Message())
			case tt.tooLong:
				require.Error(t, err)
				assert.True(t, errors.IsTooLong(err))
				assert.Equal(t, errors.MsgTooLong, errors.ToAppError(err).Message())
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestPrepareText(t *testing.T) {
	text := "  some text  "
	assert.Equal(t, text, PrepareText(text, false))
	assert.Equal(t, "some text", PrepareText(text, true))
}

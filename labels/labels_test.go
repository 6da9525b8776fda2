package labels

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate tests validation of labels.
func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		label string
		err   error
	}{
		{
			name:  "ok",
			label: "label",
			err:   nil,
		},
		{
			name:  "exceeds limit",
			label: strings.Repeat(" ", MaxLength+1),
			err:   ErrLabelTooLong,
		},
		{
			name:  "at limit",
			label: strings.Repeat(" ", MaxLength),
			err:   nil,
		},
		{
			name:  "reserved prefix",
			label: Reserved + " label",
			err:   ErrReservedPrefix,
		},
		{
			name:  "reserved in label ok",
			label: "label with " + Reserved + " within",
			err:   nil,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(test.label)
			require.Equal(t, test.err, err)
		})
	}
}

// TestSweeperRefundLabel tests that internally generated labels carry
// the reserved prefix and fail user validation.
func TestSweeperRefundLabel(t *testing.T) {
	label := SweeperRefundLabel()
	require.LessOrEqual(t, len(label), MaxLength)
	require.ErrorIs(t, Validate(label), ErrReservedPrefix)
}

package kronix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAskForConfirmation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"yes long", "yes\n", true},
		{"no", "n\n", false},
		{"no long", "no\n", false},
		{"default is no", "\n", false},
		{"retry after garbage", "maybe\ny\n", true},
		{"closed input", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := askForConfirmation(colNote, strings.NewReader(tc.input), "Continue ?")
			require.Equal(t, tc.want, got)
		})
	}
}

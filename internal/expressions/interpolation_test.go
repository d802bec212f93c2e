package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renholm/stagehand/pkg/schema"
)

func testScope() *Scope {
	return &Scope{
		Context: map[string]any{
			"branch":  "feature/x",
			"retries": 3,
			"labels":  []any{"bug", "urgent"},
		},
		Run: map[string]any{
			"run_id":   "r-1",
			"workflow": "review",
			"state":    "start",
		},
	}
}

func TestInterpolate(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"no tokens", "plain text", "plain text"},
		{"top-level variable", "branch is ${{ branch }}", "branch is feature/x"},
		{"context namespace", "${{ context.branch }}", "feature/x"},
		{"run namespace", "run ${{ run.run_id }} in ${{ run.workflow }}", "run r-1 in review"},
		{"number", "attempt ${{ retries }}", "attempt 3"},
		{"expression", "${{ retries + 1 }} attempts", "4 attempts"},
		{"comparison", "${{ retries > 1 ? \"many\" : \"few\" }}", "many"},
		{"complex value is json", "${{ labels }}", `["bug","urgent"]`},
		{"two tokens", "${{ branch }}@${{ run.state }}", "feature/x@start"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Interpolate(tc.input, testScope())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInterpolate_NilScope(t *testing.T) {
	got, err := Interpolate("no tokens here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no tokens here", got)
}

func TestInterpolate_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"unclosed", "oops ${{ branch", "unclosed"},
		{"empty", "${{ }}", "empty"},
		{"nested", "${{ a ${{ b }} }}", "nested interpolation"},
		{"unknown variable", "${{ nonexistent.field }}", "evaluate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Interpolate(tc.input, testScope())
			require.Error(t, err)
			assert.Equal(t, schema.ErrKindTemplate, schema.KindOf(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestInterpolateArgs(t *testing.T) {
	args := map[string]string{
		"target": "${{ branch }}",
		"plain":  "unchanged",
	}

	out, err := InterpolateArgs(args, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"target": "feature/x",
		"plain":  "unchanged",
	}, out)

	// Original map is untouched.
	assert.Equal(t, "${{ branch }}", args["target"])

	_, err = InterpolateArgs(map[string]string{"bad": "${{"}, testScope())
	require.Error(t, err)
	assert.Equal(t, schema.ErrKindTemplate, schema.KindOf(err))
}

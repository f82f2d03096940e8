package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOccurrences(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    Occurrences
		wantErr bool
	}{
		{"exact", []any{1, 1}, Occurrences{1, 1}, false},
		{"optional", []any{0, 1}, Occurrences{0, 1}, false},
		{"unbounded", []any{1, "UNBOUNDED"}, Occurrences{1, Unbounded}, false},
		{"float from json", []any{2.0, 3.0}, Occurrences{2, 3}, false},
		{"inverted", []any{3, 1}, Occurrences{}, true},
		{"negative", []any{-1, 1}, Occurrences{}, true},
		{"fractional", []any{0.5, 1}, Occurrences{}, true},
		{"wrong shape", "1", Occurrences{}, true},
		{"too long", []any{0, 1, 2}, Occurrences{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOccurrences(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, Occurrences{0, 1}.Optional())
	assert.False(t, DefaultOccurrences.Optional())
}

func TestDecode_Artifact(t *testing.T) {
	var a Artifact
	err := Decode(map[string]any{
		"file":               "scripts/install.sh",
		"repository":         "local",
		"checksum":           "deadbeef",
		"checksum_algorithm": "sha256",
	}, &a)
	require.NoError(t, err)
	assert.Equal(t, "scripts/install.sh", a.File)
	assert.Equal(t, "local", a.Repository)

	err = Decode(map[string]any{"type": "tosca.artifacts.File"}, &Artifact{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file is required")

	err = Decode(map[string]any{"file": "x", "checksum": "zz"}, &Artifact{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum must be hexadecimal")

	err = Decode(map[string]any{"file": "x", "checksum_algorithm": "md5"}, &Artifact{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum_algorithm must be one of")
}

func TestDecode_WorkflowSuccessors(t *testing.T) {
	var w Workflow
	err := Decode(map[string]any{
		"steps": map[string]any{
			"create":    map[string]any{"target": "db", "on_success": "configure"},
			"configure": map[string]any{"target": "db", "on_success": []any{"start", "notify"}},
		},
	}, &w)
	require.NoError(t, err)
	assert.Equal(t, StringList{"configure"}, w.Steps["create"].OnSuccess)
	assert.Equal(t, StringList{"start", "notify"}, w.Steps["configure"].OnSuccess)

	err = Decode(map[string]any{
		"steps": map[string]any{"orphan": map[string]any{}},
	}, &Workflow{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target is required")
}

func TestInputIsRequired(t *testing.T) {
	f := false
	assert.True(t, Input{}.IsRequired())
	assert.False(t, Input{Required: &f}.IsRequired())
}

func TestValidName(t *testing.T) {
	for _, ok := range []string{"web", "web_server", "db-1", "app.tier", "_x"} {
		assert.True(t, ValidName(ok), ok)
	}
	for _, bad := range []string{"", "a::b", "doc#x", "has space", "-lead"} {
		assert.False(t, ValidName(bad), bad)
	}
}

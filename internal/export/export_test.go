// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/storage"
)

var fixed = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func sample() *storage.Transcript {
	return &storage.Transcript{
		Session: model.Session{
			ID:        "s-1",
			Title:     "Deploy: #1 [draft]",
			CreatedAt: fixed,
			UpdatedAt: fixed.Add(time.Minute),
		},
		Messages: []model.Message{
			model.NewUserMessageAt("how do I deploy?", fixed),
			model.NewAssistantMessage("a-1", "Run `make deploy`.",
				map[string]any{"provider": "openai", "model": "gpt-4o-mini"}, fixed.Add(time.Second)),
		},
		SavedAt: fixed.Add(time.Minute),
	}
}

func opts(dir string) *Options {
	o := DefaultOptions()
	o.OutputDir = dir
	o.Now = func() time.Time { return fixed }
	return o
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"md", ".md"},
		{"markdown", ".md"},
		{"JSON", ".json"},
		{"yml", ".yaml"},
		{"yaml", ".yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exp, err := ForFormat(tt.format, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.ext, exp.FileExtension())
		})
	}

	_, err := ForFormat("html", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(opts("")).Export(sample())
	require.NoError(t, err)
	md := string(out)

	require.True(t, strings.HasPrefix(md, "---\n"))
	end := strings.Index(md[4:], "---\n")
	require.Positive(t, end)
	var fm frontmatter
	require.NoError(t, yaml.Unmarshal([]byte(md[4:4+end]), &fm))
	assert.Equal(t, "Deploy: #1 [draft]", fm.Title, "frontmatter survives YAML special characters")
	assert.Equal(t, 2, fm.Messages)

	assert.Contains(t, md, `# Deploy: \#1 \[draft\]`)
	assert.Contains(t, md, "### [User] <sub>09:26:53</sub>")
	assert.Contains(t, md, "Run `make deploy`.")
	assert.Contains(t, md, "provider: openai | model: gpt-4o-mini")
}

func TestMarkdownWithoutMetadata(t *testing.T) {
	o := opts("")
	o.IncludeMetadata = false
	o.IncludeTimestamps = false
	out, err := NewMarkdownExporter(o).Export(sample())
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(string(out), "---"))
	assert.Contains(t, string(out), "### [Assistant]\n")
	assert.NotContains(t, string(out), "Session Information")
}

func TestMarkdownRejectsEmpty(t *testing.T) {
	tr := sample()
	tr.Messages = nil
	_, err := NewMarkdownExporter(nil).Export(tr)
	assert.Error(t, err)

	_, err = NewMarkdownExporter(nil).Export(nil)
	assert.Error(t, err)
}

func TestJSONRoundTrips(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(sample())
	require.NoError(t, err)
	var back storage.Transcript
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "s-1", back.Session.ID)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, "a-1", back.Messages[1].ID)
}

func TestYAMLExport(t *testing.T) {
	out, err := NewYAMLExporter(nil).Export(sample())
	require.NoError(t, err)
	var back yamlTranscript
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "Deploy: #1 [draft]", back.Session.Title)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, model.RoleAssistant, back.Messages[1].Role)
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	path, err := ExportToFile(sample(), NewMarkdownExporter(opts(dir)), opts(dir))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, "session_Deploy-_#1_[draft]_20250314_092653.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "how do I deploy?")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b:c d"))
	assert.Equal(t, "session", sanitizeFilename(""))
	assert.LessOrEqual(t, len([]rune(sanitizeFilename(strings.Repeat("x", 80)))), 50)
}

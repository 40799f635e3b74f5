// File: internal/profile/profile_test.go
package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleYAML = `
name: Ada Example
email: ada@example.com
phone: "+1 555 0100"
location: Berlin
resume_path: /tmp/resume.pdf
default_answers:
  "How many years of experience do you have with Go?": "5"
  "Are you authorized to work in the US": "Yes"
  "notice period": "4 weeks"
`

func loadSample(t *testing.T) *Provider {
	t.Helper()
	p, err := Parse([]byte(sampleYAML), zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	p, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/resume.pdf", p.ResumePath())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestParse_RequiresName(t *testing.T) {
	_, err := Parse([]byte("email: a@b.c"), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestAnswer_Matching(t *testing.T) {
	p := loadSample(t)

	tests := []struct {
		name     string
		question string
		want     string
		found    bool
	}{
		{"exact", "How many years of experience do you have with Go?", "5", true},
		{"case and punctuation insensitive", "how many years of experience do you have with go", "5", true},
		{"containment", "Please state your notice period below", "4 weeks", true},
		{"whitespace collapsed", "Are  you authorized   to work in the US?", "Yes", true},
		{"no match", "What is your desired salary?", "", false},
		{"empty question", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Answer(tt.question)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummary_OmitsEmptyFields(t *testing.T) {
	p, err := Parse([]byte("name: Ada Example"), zaptest.NewLogger(t))
	require.NoError(t, err)

	summary := p.Summary()
	assert.Equal(t, map[string]string{"name": "Ada Example"}, summary)
}

func TestSummary_Full(t *testing.T) {
	p := loadSample(t)
	summary := p.Summary()
	assert.Equal(t, "ada@example.com", summary["email"])
	assert.Equal(t, "/tmp/resume.pdf", summary["resume_path"])
	assert.NotContains(t, summary, "cover_letter_path")
}

func TestDefaultAnswers_IsACopy(t *testing.T) {
	p := loadSample(t)
	answers := p.DefaultAnswers()
	answers["notice period"] = "mutated"

	got, ok := p.Answer("notice period")
	require.True(t, ok)
	assert.Equal(t, "4 weeks", got, "provider state must not be mutable through the copy")
}

// File: internal/profile/profile.go

// Package profile loads the applicant profile that grounds the planner's
// answers. The profile is a YAML document: identity fields, document paths
// and a free-form map of canned answers to screening questions.
package profile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk profile shape.
type Document struct {
	Name            string            `yaml:"name"`
	Email           string            `yaml:"email"`
	Phone           string            `yaml:"phone"`
	Location        string            `yaml:"location"`
	ResumePath      string            `yaml:"resume_path"`
	CoverLetterPath string            `yaml:"cover_letter_path"`
	DefaultAnswers  map[string]string `yaml:"default_answers"`
}

// Provider serves profile lookups. Answers are matched against normalized
// question text: exact match first, then the longest configured key contained
// in the question. Immutable after load.
type Provider struct {
	doc     Document
	answers map[string]string
	keys    []string
	logger  *zap.Logger
}

// Load reads and parses the profile at path. A "~" prefix is expanded to the
// user's home directory.
func Load(path string, logger *zap.Logger) (*Provider, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand profile path: %w", err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data, logger)
}

// Parse builds a provider from raw YAML.
func Parse(data []byte, logger *zap.Logger) (*Provider, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("profile is missing the name field")
	}

	if doc.ResumePath != "" {
		expanded, err := homedir.Expand(doc.ResumePath)
		if err != nil {
			return nil, fmt.Errorf("expand resume path: %w", err)
		}
		doc.ResumePath = expanded
	}

	answers := make(map[string]string, len(doc.DefaultAnswers))
	keys := make([]string, 0, len(doc.DefaultAnswers))
	for q, a := range doc.DefaultAnswers {
		norm := normalize(q)
		answers[norm] = a
		keys = append(keys, norm)
	}
	// Longest keys first, so the most specific containment match wins.
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	logger.Named("profile").Debug("Profile loaded",
		zap.String("name", doc.Name),
		zap.Int("default_answers", len(answers)),
	)

	return &Provider{doc: doc, answers: answers, keys: keys, logger: logger}, nil
}

// Answer returns the canned answer for a screening question, if any.
func (p *Provider) Answer(question string) (string, bool) {
	norm := normalize(question)
	if norm == "" {
		return "", false
	}
	if a, ok := p.answers[norm]; ok {
		return a, true
	}
	for _, key := range p.keys {
		if strings.Contains(norm, key) {
			return p.answers[key], true
		}
	}
	return "", false
}

// Summary returns the identity fields as a flat map for prompt construction.
// Empty fields are omitted.
func (p *Provider) Summary() map[string]string {
	out := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("name", p.doc.Name)
	put("email", p.doc.Email)
	put("phone", p.doc.Phone)
	put("location", p.doc.Location)
	put("resume_path", p.doc.ResumePath)
	put("cover_letter_path", p.doc.CoverLetterPath)
	return out
}

// ResumePath returns the expanded path to the resume document, or "".
func (p *Provider) ResumePath() string {
	return p.doc.ResumePath
}

// DefaultAnswers returns the normalized question/answer pairs for prompt
// construction.
func (p *Provider) DefaultAnswers() map[string]string {
	out := make(map[string]string, len(p.answers))
	for k, v := range p.answers {
		out[k] = v
	}
	return out
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimRight(strings.TrimSpace(s), "?.!: ")
	return strings.Join(strings.Fields(s), " ")
}

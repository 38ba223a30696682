package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Prompts loads and caches the prompt assets used to build batch requests:
// the filter prompt template, per-topic descriptions, and per-topic scoring
// prompts. Missing assets are fatal to the invoking command.
type Prompts struct {
	dir string

	mu           sync.Mutex
	filterPrompt string
	descriptions map[string]string
	scoring      map[string]string
}

// NewPrompts creates a prompt loader rooted at dir.
func NewPrompts(dir string) *Prompts {
	return &Prompts{
		dir:     dir,
		scoring: make(map[string]string),
	}
}

// FilterPrompt returns the filter prompt template with the descriptions of
// the given topics injected in place of the {topic_descriptions} placeholder.
func (p *Prompts) FilterPrompt(topics []string) (string, error) {
	template, err := p.loadFilterTemplate()
	if err != nil {
		return "", err
	}
	descriptions, err := p.TopicDescriptions()
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(topics))
	for _, topic := range topics {
		if desc, ok := descriptions[topic]; ok {
			lines = append(lines, fmt.Sprintf("- %s: %s", topic, desc))
		}
	}

	return strings.ReplaceAll(template, "{topic_descriptions}", strings.Join(lines, "\n")), nil
}

// TopicDescriptions returns the topic → one-sentence description mapping.
func (p *Prompts) TopicDescriptions() (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.descriptions != nil {
		return p.descriptions, nil
	}

	path := filepath.Join(p.dir, "topic_descriptions.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompts: topic descriptions %s", path)
	}

	var descriptions map[string]string
	if err := yaml.Unmarshal(data, &descriptions); err != nil {
		return nil, eris.Wrapf(err, "prompts: parse %s", path)
	}

	p.descriptions = descriptions
	return descriptions, nil
}

// ScoringPrompt returns the stance-scoring prompt for a topic.
func (p *Prompts) ScoringPrompt(topic string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prompt, ok := p.scoring[topic]; ok {
		return prompt, nil
	}

	path := filepath.Join(p.dir, "scoring", topic+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "prompts: scoring prompt for topic %q", topic)
	}

	p.scoring[topic] = string(data)
	return string(data), nil
}

// Validate checks that all required prompt assets exist.
func (p *Prompts) Validate() error {
	var missing []string

	if _, err := os.Stat(filepath.Join(p.dir, "filter_prompt.txt")); err != nil {
		missing = append(missing, "filter_prompt.txt")
	}
	if _, err := os.Stat(filepath.Join(p.dir, "topic_descriptions.yaml")); err != nil {
		missing = append(missing, "topic_descriptions.yaml")
	}
	if _, err := os.Stat(filepath.Join(p.dir, "scoring")); err != nil {
		missing = append(missing, "scoring/")
	}

	if len(missing) > 0 {
		return eris.Errorf("prompts: missing assets in %s: %s", p.dir, strings.Join(missing, ", "))
	}
	return nil
}

func (p *Prompts) loadFilterTemplate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.filterPrompt != "" {
		return p.filterPrompt, nil
	}

	path := filepath.Join(p.dir, "filter_prompt.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "prompts: filter prompt %s", path)
	}

	p.filterPrompt = string(data)
	return p.filterPrompt, nil
}

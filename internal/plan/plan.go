// Package plan loads the parsed task list a coordination session is seeded
// from. The input is an already-structured YAML document supplied by an
// external collaborator; foreman never parses upstream planning documents.
package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rcastle/foreman/internal/models"
)

// Descriptor is one task entry in the input document.
type Descriptor struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Action    string   `yaml:"action"`
	Wave      int      `yaml:"wave"`
	DependsOn []string `yaml:"depends_on"`
	Files     []string `yaml:"files"`
}

// Plan is the full input document.
type Plan struct {
	Name  string       `yaml:"name"`
	Tasks []Descriptor `yaml:"tasks"`
}

// Load reads and validates a plan document from path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the document shape. Graph-level validation (dependency
// existence, cycles) happens when the session is seeded.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan contains no tasks")
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i, d := range p.Tasks {
		if d.ID == "" {
			return fmt.Errorf("task at index %d has no id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate task id %s", d.ID)
		}
		seen[d.ID] = true
		if d.Name == "" {
			return fmt.Errorf("task %s has no name", d.ID)
		}
		if d.Wave < 1 {
			return fmt.Errorf("task %s: wave must be >= 1, got %d", d.ID, d.Wave)
		}
	}
	return nil
}

// Models converts the descriptors into task models with pending status.
func (p *Plan) Models() []*models.Task {
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for _, d := range p.Tasks {
		tasks = append(tasks, &models.Task{
			ID:        d.ID,
			Name:      d.Name,
			Action:    d.Action,
			Wave:      d.Wave,
			DependsOn: d.DependsOn,
			Files:     d.Files,
			Status:    models.TaskPending,
		})
	}
	return tasks
}

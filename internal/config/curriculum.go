package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agentcoord/internal/domain"
)

//go:embed default_curriculum.yaml
var defaultCurriculum []byte

type curriculumFile struct {
	Steps []domain.OnboardingStep `yaml:"steps"`
}

// LoadCurriculum reads onboarding steps from a YAML file. An empty path
// returns the built-in curriculum.
func LoadCurriculum(path string) ([]domain.OnboardingStep, error) {
	if path == "" {
		return DefaultCurriculum()
	}
	resolved, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read curriculum %s: %w", resolved, err)
	}
	steps, err := parseCurriculum(raw)
	if err != nil {
		return nil, fmt.Errorf("curriculum %s: %w", resolved, err)
	}
	return steps, nil
}

func DefaultCurriculum() ([]domain.OnboardingStep, error) {
	return parseCurriculum(defaultCurriculum)
}

// parseCurriculum decodes and checks that step ids are unique and that every
// dependency names an earlier step.
func parseCurriculum(raw []byte) ([]domain.OnboardingStep, error) {
	var file curriculumFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode curriculum: %w", err)
	}
	seen := make(map[string]bool, len(file.Steps))
	for i, step := range file.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("step %d has no id: %w", i, domain.ErrInvalidArgument)
		}
		if seen[step.ID] {
			return nil, fmt.Errorf("step %s: %w", step.ID, domain.ErrDuplicate)
		}
		for _, dep := range step.Dependencies {
			if !seen[dep] {
				return nil, fmt.Errorf("step %s depends on unknown or later step %s: %w", step.ID, dep, domain.ErrInvalidArgument)
			}
		}
		if file.Steps[i].CompletionCriteria == nil {
			file.Steps[i].CompletionCriteria = map[string]any{}
		}
		seen[step.ID] = true
	}
	return file.Steps, nil
}

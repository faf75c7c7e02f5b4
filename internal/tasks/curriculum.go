package tasks

import (
	"encoding/json"
	"fmt"
	"reflect"

	"agentcoord/internal/domain"
)

// Curriculum is the ordered list of onboarding steps. An empty curriculum
// disables onboarding.
type Curriculum struct {
	steps []domain.OnboardingStep
}

func NewCurriculum(steps []domain.OnboardingStep) *Curriculum {
	return &Curriculum{steps: append([]domain.OnboardingStep(nil), steps...)}
}

func (c *Curriculum) Steps() []domain.OnboardingStep {
	return append([]domain.OnboardingStep(nil), c.steps...)
}

func (c *Curriculum) Step(id string) (domain.OnboardingStep, error) {
	for _, step := range c.steps {
		if step.ID == id {
			return step, nil
		}
	}
	return domain.OnboardingStep{}, fmt.Errorf("onboarding step %s: %w", id, domain.ErrNotFound)
}

// NextStep returns the first step not yet completed whose dependencies are.
func (c *Curriculum) NextStep(completed []string) (domain.OnboardingStep, bool) {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	for _, step := range c.steps {
		if done[step.ID] {
			continue
		}
		ready := true
		for _, dep := range step.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return step, true
		}
	}
	return domain.OnboardingStep{}, false
}

// IsStepComplete checks results against every completion criterion of the
// step. Numeric and boolean criteria pass when the result is >= the target;
// other values must match exactly.
func (c *Curriculum) IsStepComplete(stepID string, results map[string]any) (bool, error) {
	step, err := c.Step(stepID)
	if err != nil {
		return false, err
	}
	for criterion, expected := range step.CompletionCriteria {
		got, ok := results[criterion]
		if !ok || !meets(got, expected) {
			return false, nil
		}
	}
	return true, nil
}

func (c *Curriculum) Status(completed []string, results map[string]map[string]any) domain.OnboardingStatus {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	status := domain.OnboardingStatus{
		TotalSteps:     len(c.steps),
		CompletedSteps: len(completed),
		StepDetails:    make(map[string]domain.OnboardingStepStatus, len(c.steps)),
	}
	if status.TotalSteps > 0 {
		status.Progress = float64(status.CompletedSteps) / float64(status.TotalSteps)
	}
	if next, ok := c.NextStep(completed); ok {
		status.NextStep = next.ID
	}
	for _, step := range c.steps {
		stepResults := results[step.ID]
		if stepResults == nil {
			stepResults = map[string]any{}
		}
		status.StepDetails[step.ID] = domain.OnboardingStepStatus{
			Completed: done[step.ID],
			Results:   stepResults,
		}
	}
	return status
}

func meets(got, expected any) bool {
	want, wantNumeric := numeric(expected)
	have, haveNumeric := numeric(got)
	if wantNumeric && haveNumeric {
		return have >= want
	}
	return reflect.DeepEqual(got, expected)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

package tasks

import (
	"strings"

	"agentcoord/internal/domain"
)

// Matcher decides whether an agent's advertised capabilities or profile
// specializations fit a task.
type Matcher interface {
	MatchCapabilities(task domain.Task, capabilities []string) bool
	MatchSpecializations(task domain.Task, specializations []string) bool
}

// KeywordMatcher is the default loose text match. A capability matches when
// it equals one of the whitespace-separated words of the lower-cased task
// description; a specialization matches when it occurs anywhere in it.
type KeywordMatcher struct{}

func (KeywordMatcher) MatchCapabilities(task domain.Task, capabilities []string) bool {
	words := strings.Fields(strings.ToLower(task.Description))
	for _, word := range words {
		for _, capability := range capabilities {
			if word == capability {
				return true
			}
		}
	}
	return false
}

func (KeywordMatcher) MatchSpecializations(task domain.Task, specializations []string) bool {
	description := strings.ToLower(task.Description)
	for _, spec := range specializations {
		if strings.Contains(description, spec) {
			return true
		}
	}
	return false
}

package state

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"agentcoord/internal/domain"
)

type ReliabilitySource interface {
	Reliability(agentID string) (float64, error)
}

// Weights blend the three conflict-resolution signals. Version is used raw,
// so on long-lived keys it outweighs the other two.
type Weights struct {
	Reliability float64 `toml:"reliability" json:"reliability"`
	Version     float64 `toml:"version" json:"version"`
	Recency     float64 `toml:"recency" json:"recency"`
}

func DefaultWeights() Weights {
	return Weights{Reliability: 0.4, Version: 0.3, Recency: 0.3}
}

func (w Weights) withDefaults() Weights {
	if w == (Weights{}) {
		return DefaultWeights()
	}
	return w
}

type Resolver struct {
	reliability ReliabilitySource
	weights     Weights
}

func NewResolver(reliability ReliabilitySource, weights Weights) *Resolver {
	return &Resolver{reliability: reliability, weights: weights.withDefaults()}
}

// Resolve picks the winning version among agents' competing writes of key.
// Equal scores go to the lexicographically smallest agent id.
func (r *Resolver) Resolve(key string, states map[string]domain.StateVersion) (domain.StateVersion, error) {
	if len(states) == 0 {
		return domain.StateVersion{}, fmt.Errorf("resolve %s: no states: %w", key, domain.ErrInvalidArgument)
	}
	if len(states) == 1 {
		for _, sv := range states {
			return sv, nil
		}
	}

	agentIDs := make([]string, 0, len(states))
	for agentID := range states {
		agentIDs = append(agentIDs, agentID)
	}
	sort.Strings(agentIDs)

	first := states[agentIDs[0]].Timestamp
	minTS, maxTS := first, first
	for _, sv := range states {
		if sv.Timestamp.Before(minTS) {
			minTS = sv.Timestamp
		}
		if sv.Timestamp.After(maxTS) {
			maxTS = sv.Timestamp
		}
	}
	span := maxTS.Sub(minTS).Seconds()

	var (
		bestID    string
		bestScore float64
	)
	for i, agentID := range agentIDs {
		sv := states[agentID]
		reliability, err := r.reliability.Reliability(agentID)
		if err != nil {
			return domain.StateVersion{}, fmt.Errorf("resolve %s: %w", key, err)
		}
		score := r.weights.Reliability*reliability + r.weights.Version*float64(sv.Version)
		if span > 0 {
			score += r.weights.Recency * sv.Timestamp.Sub(minTS).Seconds() / span
		}
		if i == 0 || score > bestScore {
			bestID, bestScore = agentID, score
		}
	}
	return states[bestID], nil
}

// DetectConflicts groups agents that hold an identical value and reports
// every group with more than one member, keyed by the JSON form of the value.
func (r *Resolver) DetectConflicts(states map[string]domain.StateVersion) map[string]map[string]domain.StateVersion {
	groups := make(map[string]map[string]domain.StateVersion)
	for agentID, sv := range states {
		valueKey := encodeValue(sv.Value)
		if groups[valueKey] == nil {
			groups[valueKey] = make(map[string]domain.StateVersion)
		}
		groups[valueKey][agentID] = sv
	}
	for valueKey, group := range groups {
		if len(group) < 2 {
			delete(groups, valueKey)
		}
	}
	return groups
}

// Merge keeps the most recent state; the earliest candidate wins a timestamp tie.
func (r *Resolver) Merge(states []domain.StateVersion) (domain.StateVersion, error) {
	if len(states) == 0 {
		return domain.StateVersion{}, fmt.Errorf("merge: no states: %w", domain.ErrInvalidArgument)
	}
	best := states[0]
	for _, sv := range states[1:] {
		if sv.Timestamp.After(best.Timestamp) {
			best = sv
		}
	}
	return best, nil
}

func (r *Resolver) Validate(sv domain.StateVersion) bool {
	return sv.AgentID != "" && truthy(sv.Value)
}

func encodeValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(raw)
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

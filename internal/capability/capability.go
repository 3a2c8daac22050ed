// Package capability compares task requirements against agent proficiency.
package capability

import (
	"fmt"
	"strings"
)

// Capability is a named skill held by an agent.
type Capability struct {
	Name             string  `json:"name" yaml:"name"`
	Proficiency      float64 `json:"proficiency" yaml:"proficiency"`
	LearningRate     float64 `json:"learning_rate" yaml:"learning_rate"`
	ExperiencePoints int     `json:"experience_points" yaml:"experience_points"`
}

// Requirement is a capability a task needs at a minimum proficiency.
type Requirement struct {
	Name           string  `json:"name" yaml:"name"`
	MinProficiency float64 `json:"min_proficiency" yaml:"min_proficiency"`
}

// inUnit reports whether v lies in [0,1]. NaN does not.
func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func Clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Find returns the capability with the given name.
func Find(caps []Capability, name string) (Capability, bool) {
	for _, c := range caps {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// Satisfies reports whether every requirement is present in caps at or
// above its minimum proficiency.
func Satisfies(caps []Capability, reqs []Requirement) bool {
	for _, r := range reqs {
		c, ok := Find(caps, r.Name)
		if !ok || c.Proficiency < r.MinProficiency {
			return false
		}
	}
	return true
}

// Fitness is the mean proficiency of caps over the required names. Missing
// capabilities count as zero. With no requirements the result is 0.5.
func Fitness(caps []Capability, reqs []Requirement) float64 {
	if len(reqs) == 0 {
		return 0.5
	}
	var sum float64
	for _, r := range reqs {
		if c, ok := Find(caps, r.Name); ok {
			sum += c.Proficiency
		}
	}
	return sum / float64(len(reqs))
}

// Normalize trims names and applies the default learning rate to entries
// that have none.
func Normalize(caps []Capability, defaultRate float64) []Capability {
	out := make([]Capability, len(caps))
	for i, c := range caps {
		c.Name = strings.TrimSpace(c.Name)
		if c.LearningRate == 0 {
			c.LearningRate = defaultRate
		}
		out[i] = c
	}
	return out
}

// NormalizeRequirements trims requirement names.
func NormalizeRequirements(reqs []Requirement) []Requirement {
	if reqs == nil {
		return nil
	}
	out := make([]Requirement, len(reqs))
	for i, r := range reqs {
		r.Name = strings.TrimSpace(r.Name)
		out[i] = r
	}
	return out
}

// ValidateSet checks an agent's capability list.
func ValidateSet(caps []Capability) error {
	if len(caps) == 0 {
		return fmt.Errorf("capabilities must not be empty")
	}
	seen := make(map[string]bool, len(caps))
	for _, c := range caps {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("capability name must not be blank")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate capability %q", c.Name)
		}
		seen[c.Name] = true
		if !inUnit(c.Proficiency) {
			return fmt.Errorf("capability %q: proficiency %v outside [0,1]", c.Name, c.Proficiency)
		}
		if !inUnit(c.LearningRate) {
			return fmt.Errorf("capability %q: learning rate %v outside [0,1]", c.Name, c.LearningRate)
		}
		if c.ExperiencePoints < 0 {
			return fmt.Errorf("capability %q: negative experience points", c.Name)
		}
	}
	return nil
}

// ValidateRequirements checks a task's requirement list.
func ValidateRequirements(reqs []Requirement) error {
	if len(reqs) == 0 {
		return fmt.Errorf("required capabilities must not be empty")
	}
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("requirement name must not be blank")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate requirement %q", r.Name)
		}
		seen[r.Name] = true
		if !inUnit(r.MinProficiency) {
			return fmt.Errorf("requirement %q: min proficiency %v outside [0,1]", r.Name, r.MinProficiency)
		}
	}
	return nil
}

// Names returns the requirement names in order.
func Names(reqs []Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Name
	}
	return out
}

// Clone returns a copy of caps that shares no backing array.
func Clone(caps []Capability) []Capability {
	if caps == nil {
		return nil
	}
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

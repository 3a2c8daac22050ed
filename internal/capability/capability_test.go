package capability

import (
	"math"
	"testing"
)

func TestSatisfies(t *testing.T) {
	caps := []Capability{{Name: "skill", Proficiency: 0.5}, {Name: "io", Proficiency: 0.9}}

	tests := []struct {
		name string
		reqs []Requirement
		want bool
	}{
		{"below minimum", []Requirement{{Name: "skill", MinProficiency: 0.7}}, false},
		{"exact minimum", []Requirement{{Name: "skill", MinProficiency: 0.5}}, true},
		{"missing capability", []Requirement{{Name: "gpu", MinProficiency: 0.1}}, false},
		{"all present", []Requirement{{Name: "skill", MinProficiency: 0.2}, {Name: "io", MinProficiency: 0.8}}, true},
		{"one of two short", []Requirement{{Name: "skill", MinProficiency: 0.2}, {Name: "io", MinProficiency: 0.95}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Satisfies(caps, tt.reqs); got != tt.want {
				t.Errorf("Satisfies = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFitness(t *testing.T) {
	caps := []Capability{{Name: "a", Proficiency: 0.8}, {Name: "b", Proficiency: 0.4}}

	got := Fitness(caps, []Requirement{{Name: "a"}, {Name: "b"}})
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("expected fitness 0.6, got %v", got)
	}
	got = Fitness(caps, []Requirement{{Name: "a"}, {Name: "missing"}})
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("expected fitness 0.4 with a missing capability, got %v", got)
	}
	if Fitness(caps, nil) != 0.5 {
		t.Error("expected neutral fitness with no requirements")
	}
}

func TestValidateSet(t *testing.T) {
	if err := ValidateSet(nil); err == nil {
		t.Error("expected error for empty capabilities")
	}
	if err := ValidateSet([]Capability{{Name: "a", Proficiency: 0.5}, {Name: "a", Proficiency: 0.2}}); err == nil {
		t.Error("expected error for duplicate capability")
	}
	if err := ValidateSet([]Capability{{Name: "a", Proficiency: 1.5}}); err == nil {
		t.Error("expected error for out of range proficiency")
	}
	if err := ValidateSet([]Capability{{Name: " ", Proficiency: 0.5}}); err == nil {
		t.Error("expected error for blank name")
	}
	if err := ValidateSet([]Capability{{Name: "a", Proficiency: 0.5, LearningRate: 0.1}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRequirements(t *testing.T) {
	if err := ValidateRequirements(nil); err == nil {
		t.Error("expected error for empty requirements")
	}
	if err := ValidateRequirements([]Requirement{{Name: "a", MinProficiency: -0.1}}); err == nil {
		t.Error("expected error for negative minimum")
	}
	if err := ValidateRequirements([]Requirement{{Name: "a", MinProficiency: 0.7}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeAppliesDefaultRate(t *testing.T) {
	caps := Normalize([]Capability{{Name: " a ", Proficiency: 0.3}, {Name: "b", LearningRate: 0.4}}, 0.1)
	if caps[0].Name != "a" || caps[0].LearningRate != 0.1 {
		t.Errorf("unexpected first capability %+v", caps[0])
	}
	if caps[1].LearningRate != 0.4 {
		t.Errorf("expected explicit rate kept, got %v", caps[1].LearningRate)
	}
}

func TestValidateRejectsNaN(t *testing.T) {
	nan := math.NaN()
	if err := ValidateSet([]Capability{{Name: "a", Proficiency: nan}}); err == nil {
		t.Error("expected error for NaN proficiency")
	}
	if err := ValidateSet([]Capability{{Name: "a", Proficiency: 0.5, LearningRate: nan}}); err == nil {
		t.Error("expected error for NaN learning rate")
	}
	if err := ValidateRequirements([]Requirement{{Name: "a", MinProficiency: nan}}); err == nil {
		t.Error("expected error for NaN minimum")
	}
}

func TestNormalizeRequirements(t *testing.T) {
	reqs := NormalizeRequirements([]Requirement{{Name: " skill ", MinProficiency: 0.4}})
	if reqs[0].Name != "skill" || reqs[0].MinProficiency != 0.4 {
		t.Errorf("unexpected requirement %+v", reqs[0])
	}
	caps := Normalize([]Capability{{Name: "skill", Proficiency: 0.6}}, 0.1)
	if !Satisfies(caps, reqs) {
		t.Error("trimmed requirement should match")
	}
	if NormalizeRequirements(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestClamp01(t *testing.T) {
	if Clamp01(-1) != 0 || Clamp01(2) != 1 || Clamp01(0.3) != 0.3 {
		t.Error("clamp out of range")
	}
	if Clamp01(math.NaN()) != 0 {
		t.Error("expected NaN clamped to 0")
	}
}

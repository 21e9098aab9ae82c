package domain

import dErrors "hemobank/pkg/domain-errors"

// BloodType is the ABO/Rh group of a donor, unit, component, or request.
//
// Matching on allocation is exact: a request for O- is only satisfied by O-
// components. Transfusion compatibility is a medical call made outside the
// core, so the core never substitutes a compatible group on its own.
type BloodType string

const (
	BloodTypeONeg  BloodType = "O-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeAPos  BloodType = "A+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeABPos BloodType = "AB+"
)

var validBloodTypes = map[BloodType]bool{
	BloodTypeONeg:  true,
	BloodTypeOPos:  true,
	BloodTypeANeg:  true,
	BloodTypeAPos:  true,
	BloodTypeBNeg:  true,
	BloodTypeBPos:  true,
	BloodTypeABNeg: true,
	BloodTypeABPos: true,
}

// ParseBloodType constructs a BloodType from external input, enforcing the
// allowlist. Call from handlers and builders at trust boundaries.
func ParseBloodType(s string) (BloodType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "blood type is required")
	}
	t := BloodType(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown blood type %q", s)
	}
	return t, nil
}

func (t BloodType) IsValid() bool { return validBloodTypes[t] }

func (t BloodType) String() string { return string(t) }

// AllBloodTypes returns the closed set in a stable order, used by stock
// reporting so every group appears even at zero volume.
func AllBloodTypes() []BloodType {
	return []BloodType{
		BloodTypeONeg, BloodTypeOPos,
		BloodTypeANeg, BloodTypeAPos,
		BloodTypeBNeg, BloodTypeBPos,
		BloodTypeABNeg, BloodTypeABPos,
	}
}

// ComponentType is the typed fraction a unit separates into.
type ComponentType string

const (
	ComponentWholeBlood ComponentType = "whole_blood"
	ComponentRedCell    ComponentType = "red_cell"
	ComponentPlasma     ComponentType = "plasma"
	ComponentPlatelet   ComponentType = "platelet"
)

var validComponentTypes = map[ComponentType]bool{
	ComponentWholeBlood: true,
	ComponentRedCell:    true,
	ComponentPlasma:     true,
	ComponentPlatelet:   true,
}

// ParseComponentType constructs a ComponentType from external input,
// enforcing the allowlist.
func ParseComponentType(s string) (ComponentType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "component type is required")
	}
	t := ComponentType(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown component type %q", s)
	}
	return t, nil
}

func (t ComponentType) IsValid() bool { return validComponentTypes[t] }

func (t ComponentType) String() string { return string(t) }

// Urgency ranks how quickly a hospital request needs fulfillment. It is
// informational for staff triage; the core does not auto-prioritize.
type Urgency string

const (
	UrgencyRoutine  Urgency = "routine"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyCritical Urgency = "critical"
)

var validUrgencies = map[Urgency]bool{
	UrgencyRoutine:  true,
	UrgencyUrgent:   true,
	UrgencyCritical: true,
}

// ParseUrgency constructs an Urgency from external input. Empty input
// defaults to routine.
func ParseUrgency(s string) (Urgency, error) {
	if s == "" {
		return UrgencyRoutine, nil
	}
	u := Urgency(s)
	if !validUrgencies[u] {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown urgency %q", s)
	}
	return u, nil
}

func (u Urgency) String() string { return string(u) }

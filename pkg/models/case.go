package models

import (
	"time"

	"github.com/google/uuid"
)

// Grade levels recognised by the heuristics. Other values are accepted and
// treated like high_school by length-based checks.
const (
	GradeElementary   = "elementary"
	GradeMiddleSchool = "middle_school"
	GradeHighSchool   = "high_school"
	GradeCollege      = "college"
)

// Case is one test scenario: a student query plus what a good answer covers.
type Case struct {
	ID                string         `json:"id"                            validate:"required,max=256"`
	StudentQuery      string         `json:"student_query"                 validate:"required"`
	ExpectedConcepts  []string       `json:"expected_concepts,omitempty"   validate:"omitempty,dive,required"`
	GroundTruthAnswer string         `json:"ground_truth_answer,omitempty"`
	GradeLevel        string         `json:"grade_level"                   validate:"required,oneof=elementary middle_school high_school college"`
	Subject           string         `json:"subject"                       validate:"required"`
	Topic             string         `json:"topic,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// PreviousContext returns metadata.previous_context when it is a string.
func (c Case) PreviousContext() string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata["previous_context"].(string)
	return s
}

// Dataset is a validated, ordered case list owned by a tenant.
type Dataset struct {
	ID        uuid.UUID `db:"id"         json:"dataset_id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	Name      string    `db:"name"       json:"name"`
	Version   int       `db:"version"    json:"version"`
	Cases     []Case    `db:"cases"      json:"test_cases"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

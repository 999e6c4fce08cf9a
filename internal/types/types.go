// Package types provides shared types used across multiple packages.
// This package has no dependencies on other folio packages to avoid import cycles.
package types

// DocumentType classifies the synthesized document.
type DocumentType string

const (
	DocTypeSurgicalDisease   DocumentType = "surgical_disease"
	DocTypePureAnatomy       DocumentType = "pure_anatomy"
	DocTypeSurgicalTechnique DocumentType = "surgical_technique"
)

// ParseDocumentType converts a string to a DocumentType.
// Returns DocTypeSurgicalDisease if the string is not recognized.
func ParseDocumentType(s string) DocumentType {
	switch s {
	case string(DocTypePureAnatomy):
		return DocTypePureAnatomy
	case string(DocTypeSurgicalTechnique):
		return DocTypeSurgicalTechnique
	default:
		return DocTypeSurgicalDisease
	}
}

// ValidDocumentType reports whether s names a known document type.
func ValidDocumentType(s string) bool {
	switch DocumentType(s) {
	case DocTypeSurgicalDisease, DocTypePureAnatomy, DocTypeSurgicalTechnique:
		return true
	}
	return false
}

// SectionType tags a section with its role in the document.
type SectionType string

const (
	SectionIntroduction         SectionType = "introduction"
	SectionEpidemiology         SectionType = "epidemiology"
	SectionPathophysiology      SectionType = "pathophysiology"
	SectionClinicalPresentation SectionType = "clinical_presentation"
	SectionDiagnosticEval       SectionType = "diagnostic_evaluation"
	SectionDifferentialDx       SectionType = "differential_diagnosis"
	SectionTreatmentOptions     SectionType = "treatment_options"
	SectionSurgicalTechnique    SectionType = "surgical_technique"
	SectionPostopManagement     SectionType = "postoperative_management"
	SectionComplications        SectionType = "complications"
	SectionOutcomes             SectionType = "outcomes"
	SectionFutureDirections     SectionType = "future_directions"
	SectionCustom               SectionType = "custom"
)

// ParseSectionType converts a string to a SectionType.
// Unrecognized values map to SectionCustom.
func ParseSectionType(s string) SectionType {
	switch t := SectionType(s); t {
	case SectionIntroduction, SectionEpidemiology, SectionPathophysiology,
		SectionClinicalPresentation, SectionDiagnosticEval, SectionDifferentialDx,
		SectionTreatmentOptions, SectionSurgicalTechnique, SectionPostopManagement,
		SectionComplications, SectionOutcomes, SectionFutureDirections:
		return t
	default:
		return SectionCustom
	}
}

// Severity ranks issues and claims.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a sortable weight for a severity (critical highest).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity converts a string to a Severity.
// Returns SeverityLow if the string is not recognized.
func ParseSeverity(s string) Severity {
	switch t := Severity(s); t {
	case SeverityCritical, SeverityHigh, SeverityMedium:
		return t
	default:
		return SeverityLow
	}
}

// SourceType indicates where a source came from.
type SourceType string

const (
	SourceInternal   SourceType = "internal"
	SourceExternalDB SourceType = "external_db"
	SourceAIResearch SourceType = "ai_research"
)

// TaskTag routes a gateway call to its preferred provider chain.
type TaskTag string

const (
	TaskContentDrafting    TaskTag = "content_drafting"
	TaskFactVerification   TaskTag = "fact_verification"
	TaskMetadataExtraction TaskTag = "metadata_extraction"
	TaskSourceRelevance    TaskTag = "source_relevance"
	TaskSummarization      TaskTag = "summarization"
	TaskVision             TaskTag = "vision"
	TaskEmbedding          TaskTag = "embedding"
)

// GenerationStatus is the document-level state machine value.
// Stage states are "stage_1".."stage_14"; terminal states are
// "completed" and "failed".
type GenerationStatus string

const (
	StatusQueued    GenerationStatus = "queued"
	StatusCompleted GenerationStatus = "completed"
	StatusFailed    GenerationStatus = "failed"
)

// TaskStatus is the background-task state machine value.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

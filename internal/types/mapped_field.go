package types

// FillMethod is the DOM interaction used to fill a field
type FillMethod string

const (
	// MethodText types into a text-like input, textarea or rich-text editor
	MethodText FillMethod = "text"
	// MethodDate fills a date-typed input
	MethodDate FillMethod = "date"
	// MethodSelect picks an option of a native select
	MethodSelect FillMethod = "select"
	// MethodDropdown opens a custom dropdown widget and clicks an option
	MethodDropdown FillMethod = "dropdown"
	// MethodRadio picks one member of a radio group
	MethodRadio FillMethod = "radio"
	// MethodCheckbox toggles a checkbox
	MethodCheckbox FillMethod = "checkbox"
	// MethodFile attaches a profile document
	MethodFile FillMethod = "file"
	// MethodAIGenerate needs an AI-drafted answer
	MethodAIGenerate FillMethod = "ai_generate"
)

// FillOrder is the fixed processing priority of fill methods.
// Simpler interactions run first so that conditional fields revealed by a
// select or radio choice exist before the later passes.
var FillOrder = []FillMethod{
	MethodText,
	MethodDate,
	MethodSelect,
	MethodDropdown,
	MethodRadio,
	MethodCheckbox,
	MethodFile,
	MethodAIGenerate,
}

// Priority returns the position of m in FillOrder; unknown methods sort last.
func (m FillMethod) Priority() int {
	for i, candidate := range FillOrder {
		if candidate == m {
			return i
		}
	}
	return len(FillOrder)
}

// MappingStatus is the classifier's verdict for a field
type MappingStatus string

const (
	// StatusMapped means a key and value were resolved
	StatusMapped MappingStatus = "mapped"
	// StatusNoData means the key resolved but the profile holds no value for it
	StatusNoData MappingStatus = "no_data"
	// StatusAmbiguous means neither the registry nor the AI produced a mapping
	StatusAmbiguous MappingStatus = "ambiguous"
)

// MatchSource records which classification tier produced a mapping
type MatchSource string

const (
	SourceStrict    MatchSource = "strict"
	SourceAttribute MatchSource = "attribute"
	SourcePattern   MatchSource = "pattern"
	SourceAI        MatchSource = "ai"
)

// MappedField is the classifier output for one field
type MappedField struct {
	Descriptor   FieldDescriptor `json:"descriptor"`
	ProfileKey   string          `json:"profile_key,omitempty"`
	Value        string          `json:"value,omitempty"`
	FillMethod   FillMethod      `json:"fill_method"`
	Confidence   float64         `json:"confidence"`
	RequiresAI   bool            `json:"requires_ai"`
	RequiresFile bool            `json:"requires_file"`
	Status       MappingStatus   `json:"status"`
	Source       MatchSource     `json:"source,omitempty"`
	DocumentType string          `json:"document_type,omitempty"` // file fields only
}

// Index is the descriptor index of the field.
func (m MappedField) Index() int {
	return m.Descriptor.Index
}

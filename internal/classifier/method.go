package classifier

import (
	"strings"

	"github.com/jonathan/job-autofill/internal/types"
)

// dropdownClasses mark inputs that front a custom dropdown widget on common ATS pages.
var dropdownClasses = []string{
	"select__input", // react-select (Greenhouse, Ashby)
	"select2-search__field",
	"select2-selection",
	"chosen-search-input",
}

// InferMethod derives the interaction used to fill a field from its control type.
func InferMethod(d types.FieldDescriptor) types.FillMethod {
	switch d.Type {
	case "select-one", "select-multiple":
		return types.MethodSelect
	case "radio":
		return types.MethodRadio
	case "checkbox":
		return types.MethodCheckbox
	case "file":
		return types.MethodFile
	case "date", "datetime-local", "month":
		return types.MethodDate
	case "combobox", "listbox":
		return types.MethodDropdown
	}
	if isCustomDropdown(d) {
		return types.MethodDropdown
	}
	return types.MethodText
}

func isCustomDropdown(d types.FieldDescriptor) bool {
	switch strings.ToLower(d.Attr("role")) {
	case "combobox", "listbox":
		return true
	}
	if strings.ToLower(d.Attr("aria-haspopup")) == "listbox" {
		return true
	}
	if strings.ToLower(d.Attr("aria-autocomplete")) == "list" && d.Attr("aria-controls") != "" {
		return true
	}
	automation := strings.ToLower(d.Attr("data-automation-id"))
	if strings.Contains(automation, "dropdown") || strings.Contains(automation, "selectwidget") {
		return true
	}
	classes := d.Attr("class")
	for _, c := range dropdownClasses {
		if strings.Contains(classes, c) {
			return true
		}
	}
	return false
}

// IsOpenEnded reports whether a field takes free-form prose, the kind of
// question an AI-drafted answer can serve.
func IsOpenEnded(d types.FieldDescriptor) bool {
	return d.Type == "textarea" || d.Type == "contenteditable"
}

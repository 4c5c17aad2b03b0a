package fill

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// fillSelect picks the matching option of a native select through the
// value setter so framework listeners see the change.
func (e *Engine) fillSelect(ctx context.Context, el dom.Element, f types.MappedField) attempt {
	options := f.Descriptor.Options
	i := matchOption(options, f.Value)
	if i < 0 {
		return failedf("no option matches %q", f.Value)
	}
	want := options[i]

	if err := el.Focus(ctx); err != nil {
		return failed(err)
	}
	if err := e.injector.SetControlledValue(ctx, el, want.Value); err != nil {
		return failed(err)
	}
	_ = el.Dispatch(ctx, dom.EventBlur)

	if err := e.clock.Sleep(ctx, e.settings.Delays().Settle); err != nil {
		return failed(err)
	}
	got, err := el.SelectedIndex(ctx)
	if err != nil {
		return failed(err)
	}
	if got == i {
		return filled()
	}
	if v, err := el.Value(ctx); err == nil && v == want.Value {
		return filled()
	}
	return uncertain(fmt.Errorf("selected option %d, wanted %d (%s)", got, i, want.Text))
}

// selectIsEmpty reports whether a native select still shows its placeholder option.
func selectIsEmpty(ctx context.Context, el dom.Element, d types.FieldDescriptor) (bool, error) {
	i, err := el.SelectedIndex(ctx)
	if err != nil {
		return false, err
	}
	if i < 0 || i >= len(d.Options) {
		return i < 0, nil
	}
	o := d.Options[i]
	return o.Value == "" || isPlaceholder(o.Text, d), nil
}

// fillDropdown opens a custom dropdown widget and clicks the option whose
// text matches, searching platform selectors before generic list items.
func (e *Engine) fillDropdown(ctx context.Context, el dom.Element, f types.MappedField, delays settings.Delays) attempt {
	if f.Descriptor.Type == "listbox" {
		return e.fillListbox(ctx, el, f)
	}
	if e.doc == nil {
		return failed(errors.New(ReasonNoDocument))
	}

	if err := el.Click(ctx); err != nil {
		return failed(err)
	}
	if f.Descriptor.Tag == "input" {
		// typeahead widgets only render options matching what was typed
		if ok, err := el.ExecInsertText(ctx, f.Value); err != nil {
			return failed(err)
		} else if !ok {
			if err := e.injector.SetControlledValue(ctx, el, f.Value); err != nil {
				return failed(err)
			}
		}
	}
	if err := e.clock.Sleep(ctx, delays.Settle); err != nil {
		return failed(err)
	}

	options, texts, err := e.visibleOptions(ctx)
	if err != nil {
		return failed(err)
	}
	i := matchText(texts, f.Value)
	if i < 0 {
		_ = el.Dispatch(ctx, dom.Event{Type: "keydown", Bubbles: true, Key: "Escape"})
		return failedf("no dropdown option matches %q among %d options", f.Value, len(texts))
	}
	if err := options[i].Click(ctx); err != nil {
		return failed(err)
	}

	if err := e.clock.Sleep(ctx, delays.Settle); err != nil {
		return failed(err)
	}
	got, err := el.Value(ctx)
	if err != nil {
		return failed(err)
	}
	if valuesMatch(got, texts[i]) || valuesMatch(got, f.Value) {
		return filled()
	}
	return uncertain(fmt.Errorf("dropdown shows %q after choosing %q", got, texts[i]))
}

// visibleOptions collects the rendered option elements of the open dropdown.
func (e *Engine) visibleOptions(ctx context.Context) ([]dom.Element, []string, error) {
	selectors := append(fetch.OptionSelectors(e.platform), "li")
	seen := make(map[string]bool)
	var options []dom.Element
	var texts []string
	for _, sel := range selectors {
		found, err := e.doc.QueryAll(ctx, sel)
		if err != nil {
			return nil, nil, fmt.Errorf("query %s: %w", sel, err)
		}
		for _, o := range found {
			if seen[o.Key()] {
				continue
			}
			seen[o.Key()] = true
			if visible, err := o.Visible(ctx); err != nil || !visible {
				continue
			}
			if text := dom.CollapseSpace(o.Text()); text != "" {
				options = append(options, o)
				texts = append(texts, text)
			}
		}
		if len(options) > 0 {
			break
		}
	}
	return options, texts, nil
}

// fillListbox clicks the matching option of an always-rendered ARIA listbox.
func (e *Engine) fillListbox(ctx context.Context, el dom.Element, f types.MappedField) attempt {
	var options []dom.Element
	var texts []string
	dom.Walk(el, func(n dom.Node) bool {
		if dom.AttrOr(n, "role") == "option" {
			if o, ok := dom.AsElement(n); ok {
				options = append(options, o)
				texts = append(texts, dom.CollapseSpace(n.Text()))
			}
			return false
		}
		return true
	})
	i := matchText(texts, f.Value)
	if i < 0 {
		return failedf("no listbox option matches %q", f.Value)
	}
	if err := options[i].Click(ctx); err != nil {
		return failed(err)
	}
	return filled()
}

// fillRadio clicks the group member whose value or label matches.
func (e *Engine) fillRadio(ctx context.Context, members []dom.Element, f types.MappedField) attempt {
	options := f.Descriptor.Options
	if len(members) == 0 || len(members) != len(options) {
		return failedf("radio group has %d members for %d options", len(members), len(options))
	}
	i := matchOption(options, f.Value)
	if i < 0 {
		return failedf("no radio option matches %q", f.Value)
	}
	if err := members[i].Click(ctx); err != nil {
		return failed(err)
	}
	checked, err := members[i].Checked(ctx)
	if err != nil {
		return failed(err)
	}
	if !checked {
		return uncertain(fmt.Errorf("radio %q did not become checked", options[i].Text))
	}
	return filled()
}

// radioMatches reports whether the checked member m is the one the field asks for.
func radioMatches(ctx context.Context, m dom.Element, f types.MappedField) bool {
	v, err := m.Value(ctx)
	if err != nil {
		return false
	}
	i := matchOption(f.Descriptor.Options, f.Value)
	return i >= 0 && f.Descriptor.Options[i].Value == v
}

// checkboxTarget is the checked state the field's value asks for. A value
// that is not a yes/no answer checks the box when it names the box.
func checkboxTarget(f types.MappedField) bool {
	if b, ok := parseBool(f.Value); ok {
		return b
	}
	d := f.Descriptor
	for _, candidate := range []string{d.Label, d.Attr("value")} {
		if candidate != "" && matchText([]string{candidate}, f.Value) == 0 {
			return true
		}
	}
	return false
}

// fillCheckbox toggles through a real click, never by assigning checked.
func (e *Engine) fillCheckbox(ctx context.Context, el dom.Element, f types.MappedField) attempt {
	want := checkboxTarget(f)
	checked, err := el.Checked(ctx)
	if err != nil {
		return failed(err)
	}
	if checked != want {
		if err := el.Click(ctx); err != nil {
			return failed(err)
		}
		if checked, err = el.Checked(ctx); err != nil {
			return failed(err)
		}
	}
	if checked != want {
		return uncertain(fmt.Errorf("checkbox is still %t", checked))
	}
	return filled()
}

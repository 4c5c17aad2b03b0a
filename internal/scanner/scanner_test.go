package scanner

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-autofill/internal/dom/domtest"
	"github.com/jonathan/job-autofill/internal/types"
)

func scanHTML(t *testing.T, src string) (*domtest.Document, *Snapshot) {
	t.Helper()
	doc, err := domtest.Parse(src)
	require.NoError(t, err)
	return doc, Scan(context.Background(), doc)
}

func labels(s *Snapshot) []string {
	var out []string
	for _, d := range s.Descriptors() {
		out = append(out, d.Label)
	}
	return out
}

func TestScan_LabelPriority(t *testing.T) {
	_, snap := scanHTML(t, `<body><form>
		<label for="fn">First Name *</label>
		<label>Wrapped <input id="fn" name="first_name"></label>
		<label>Last name <input name="last_name"></label>
		<input aria-label="Email address" name="email">
		<span id="ph">Mobile phone</span><input aria-labelledby="ph">
		<div><p>City:</p><div><input name="city"></div></div>
		<input name="nothing_before">
	</form></body>`)

	require.Equal(t, 6, snap.Len())
	assert.Equal(t, []string{
		"First Name",
		"Last name",
		"Email address",
		"Mobile phone",
		"City",
		"",
	}, labels(snap))
}

func TestScan_PrecedingTextDoesNotCrossControls(t *testing.T) {
	_, snap := scanHTML(t, `<body>
		<div>Phone</div><input name="phone">
		<input name="extension">
	</body>`)

	require.Equal(t, 2, snap.Len())
	assert.Equal(t, "Phone", snap.Fields[0].Descriptor.Label)
	assert.Equal(t, "", snap.Fields[1].Descriptor.Label)
}

func TestScan_CandidateSelection(t *testing.T) {
	_, snap := scanHTML(t, `<body>
		<input type="hidden" name="csrf">
		<input type="submit" value="Go">
		<input type="button" value="x">
		<input name="disabled" disabled>
		<fieldset disabled><input name="in_disabled_fieldset"></fieldset>
		<input name="text">
		<textarea name="cover">hello</textarea>
		<select name="state"><option value="">Pick</option><option>Texas</option></select>
		<div class="ql-editor" contenteditable="true"><p>draft</p></div>
		<div id="tinymce"></div>
		<div role="combobox" aria-controls="opts" aria-label="Country">Select</div>
		<ul id="opts" role="listbox"><li role="option">US</li></ul>
		<div role="listbox" aria-label="Skills"><div role="option" data-value="go">Go</div></div>
		<input type="file" name="resume">
		<input type="date" name="start">
	</body>`)

	var names []string
	for _, d := range snap.Descriptors() {
		names = append(names, d.Type)
	}
	assert.Equal(t, []string{
		"text", "textarea", "select-one", "contenteditable", "contenteditable",
		"combobox", "listbox", "file", "date",
	}, names)

	sel := snap.Fields[2].Descriptor
	assert.Equal(t, []types.Option{{Value: "", Text: "Pick"}, {Value: "Texas", Text: "Texas"}}, sel.Options)
	assert.Equal(t, "", sel.Value)

	assert.Equal(t, "hello", snap.Fields[1].Descriptor.Value)
	assert.Equal(t, []types.Option{{Value: "go", Text: "Go"}}, snap.Fields[6].Descriptor.Options)
}

func TestScan_RadioGroupCollapses(t *testing.T) {
	_, snap := scanHTML(t, `<body>
		<fieldset><legend>Are you authorized to work?</legend>
			<label><input type="radio" name="auth" value="yes"> Yes</label>
			<label><input type="radio" name="auth" value="no" checked> No</label>
		</fieldset>
		<p>Relocate?</p>
		<input type="radio" name="reloc" value="1" id="r1"><label for="r1">Sure</label>
		<input type="radio" name="reloc" value="0" id="r0"><label for="r0">Nope</label>
	</body>`)

	require.Equal(t, 2, snap.Len())

	auth := snap.Fields[0]
	assert.Equal(t, "radio", auth.Descriptor.Type)
	assert.Equal(t, "Are you authorized to work?", auth.Descriptor.Label)
	assert.Equal(t, []types.Option{{Value: "yes", Text: "Yes"}, {Value: "no", Text: "No"}}, auth.Descriptor.Options)
	assert.Equal(t, "no", auth.Descriptor.Value)
	assert.Len(t, snap.Group(0), 2)

	reloc := snap.Fields[1]
	assert.Equal(t, "Relocate?", reloc.Descriptor.Label)
	assert.Equal(t, []string{"Sure", "Nope"}, reloc.Descriptor.OptionTexts())
	assert.Equal(t, "", reloc.Descriptor.Value)
}

func TestScan_ShadowRootsAndFrames(t *testing.T) {
	doc, err := domtest.Parse(`<body>
		<input name="top">
		<x-form id="host"><template shadowrootmode="open">
			<label for="e">Email</label><input id="e" name="email">
		</template></x-form>
		<iframe id="same"></iframe>
		<iframe id="other"></iframe>
	</body>`)
	require.NoError(t, err)
	_, err = doc.AddFrame("same", `<body><label>Phone <input name="phone"></label></body>`, false)
	require.NoError(t, err)
	_, err = doc.AddFrame("other", `<body><input name="tracking"></body>`, true)
	require.NoError(t, err)

	snap := Scan(context.Background(), doc)
	require.Equal(t, 3, snap.Len())

	d := snap.Descriptors()
	assert.Equal(t, "top", d[0].Name)
	assert.Equal(t, types.FrameDocument, d[0].Frame)
	assert.Equal(t, "Email", d[1].Label)
	assert.Equal(t, types.FrameShadow, d[1].Frame)
	assert.Equal(t, "Phone", d[2].Label)
	assert.Equal(t, types.FrameIframe, d[2].Frame)

	for i := range d {
		assert.Equal(t, i, d[i].Index)
		_, ok := snap.Element(i)
		assert.True(t, ok)
	}
}

func TestScan_AttributeBagAndRequired(t *testing.T) {
	_, snap := scanHTML(t, `<body>
		<input data-automation-id="legalNameSection_firstName" aria-required="true" placeholder="Jane">
	</body>`)

	require.Equal(t, 1, snap.Len())
	d := snap.Fields[0].Descriptor
	assert.True(t, d.Required)
	assert.Equal(t, "Jane", d.Placeholder)
	assert.Equal(t, "legalNameSection_firstName", d.Attr("data-automation-id"))
}

func TestScan_ReadOnly(t *testing.T) {
	doc, snap := scanHTML(t, `<body><input id="x" value="kept"></body>`)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "kept", snap.Fields[0].Descriptor.Value)
	assert.Empty(t, doc.Events())
}

func TestSnapshot_OutOfRange(t *testing.T) {
	_, snap := scanHTML(t, `<body></body>`)
	_, ok := snap.Element(0)
	assert.False(t, ok)
	assert.Nil(t, snap.Group(-1))
}

func TestTruncate(t *testing.T) {
	cjk := strings.Repeat("職務経歴", 25)
	got := truncate(cjk)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("職務経歴", 16)+"職務", got)

	words := strings.Repeat("word ", 50)
	got = truncate(words)
	assert.LessOrEqual(t, len(got), maxLabelLen)
	assert.False(t, strings.HasSuffix(got, " "))
	assert.True(t, strings.HasPrefix(words, got))

	assert.Equal(t, "Email", truncate("Email"))
}

package fill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-autofill/internal/classifier"
	"github.com/jonathan/job-autofill/internal/clock"
	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/dom/domtest"
	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/scanner"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

const stateForm = `<body><form>
	<input name="first_name">
	<label for="st">State</label>
	<select id="st" name="state">
		<option value="">Select</option>
		<option value="CA">California</option>
		<option value="TX">Texas</option>
	</select>
</form></body>`

func newEngine(doc *domtest.Document, s settings.Settings) (*Engine, *clock.Fake) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(WithDocument(doc), WithClock(fake), WithSettings(s)), fake
}

func scan(t *testing.T, src string) (*domtest.Document, *scanner.Snapshot) {
	t.Helper()
	doc, err := domtest.Parse(src)
	require.NoError(t, err)
	return doc, scanner.Scan(context.Background(), doc)
}

// mapped builds a ready-to-fill field for snapshot index i.
func mapped(snap *scanner.Snapshot, i int, method types.FillMethod, value string) types.MappedField {
	return types.MappedField{
		Descriptor: snap.Fields[i].Descriptor,
		ProfileKey: "key",
		Value:      value,
		FillMethod: method,
		Confidence: 1,
		Status:     types.StatusMapped,
	}
}

func classify(snap *scanner.Snapshot, p *profile.Profile) []types.MappedField {
	res := classifier.New().Classify(context.Background(), snap.Descriptors(), patterns.GetActiveFieldPatterns(), p)
	return res.Fields
}

func TestFillForm_EndToEnd(t *testing.T) {
	doc, snap := scan(t, stateForm)
	p := profile.FromValues(map[string]string{"firstName": "Jane", "state": "Texas"})
	fields := classify(snap, p)

	require.Len(t, fields, 2)
	assert.Equal(t, types.MethodText, fields[0].FillMethod)
	assert.Equal(t, types.MethodSelect, fields[1].FillMethod)

	engine, _ := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, fields)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Filled)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Failed)
	for _, d := range res.Details {
		assert.Equal(t, types.DetailFilled, d.Status, d.Label)
	}
	assert.Equal(t, "Jane", doc.Find("input[name=first_name]")[0].CurrentValue())
	assert.Equal(t, "TX", doc.ByID("st").CurrentValue())
}

func TestFillForm_Idempotent(t *testing.T) {
	doc, snap := scan(t, stateForm)
	p := profile.FromValues(map[string]string{"firstName": "Jane", "state": "Texas"})
	engine, _ := newEngine(doc, settings.Defaults())

	first := engine.FillForm(context.Background(), snap, classify(snap, p))
	require.Equal(t, 2, first.Filled)

	snap = scanner.Scan(context.Background(), doc)
	second := engine.FillForm(context.Background(), snap, classify(snap, p))
	assert.Zero(t, second.Filled)
	assert.Equal(t, 2, second.Skipped)
	for _, d := range second.Details {
		assert.Equal(t, ReasonHasValue, d.Error)
	}
}

func TestFillForm_PriorityOrder(t *testing.T) {
	doc, snap := scan(t, `<body>
		<label>Agree <input type="checkbox" name="agree"></label>
		<label><input type="radio" name="r" value="a"> A</label>
		<select name="s"><option value="">-</option><option value="x">X</option></select>
		<input name="t1">
		<input type="date" name="d">
		<input name="t2">
	</body>`)
	require.Equal(t, 6, snap.Len())
	fields := []types.MappedField{
		mapped(snap, 0, types.MethodCheckbox, "yes"),
		mapped(snap, 1, types.MethodRadio, "A"),
		mapped(snap, 2, types.MethodSelect, "X"),
		mapped(snap, 3, types.MethodText, "one"),
		mapped(snap, 4, types.MethodDate, "2024-02-29"),
		mapped(snap, 5, types.MethodText, "two"),
	}
	engine, _ := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, fields)

	var order []int
	for _, d := range res.Details {
		order = append(order, d.FieldIndex)
	}
	assert.Equal(t, []int{3, 5, 4, 2, 1, 0}, order)
	assert.Equal(t, 6, res.Filled)
}

func TestFillForm_SkipRules(t *testing.T) {
	doc, snap := scan(t, `<body>
		<textarea name="why"></textarea>
		<input type="file" name="resume">
		<input name="phone">
		<input name="mystery">
		<input name="city" value="Austin">
	</body>`)
	ai := mapped(snap, 0, types.MethodAIGenerate, "")
	ai.RequiresAI = true
	file := mapped(snap, 1, types.MethodFile, "")
	file.RequiresFile = true
	noData := mapped(snap, 2, types.MethodText, "")
	noData.Status = types.StatusNoData
	noData.ProfileKey = "phone"
	ambiguous := mapped(snap, 3, types.MethodText, "")
	ambiguous.Status = types.StatusAmbiguous
	prefilled := mapped(snap, 4, types.MethodText, "Dallas")

	engine, fake := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, []types.MappedField{ai, file, noData, ambiguous, prefilled})

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 1, res.NeedsAI)
	assert.Equal(t, 1, res.NeedsFile)
	assert.Equal(t, 3, res.Skipped)
	assert.Zero(t, res.Filled)

	detail := func(i int) types.FillDetail {
		d, ok := res.Detail(i)
		require.True(t, ok)
		return d
	}
	assert.Equal(t, types.DetailNeedsReview, detail(0).Status)
	assert.Equal(t, ReasonNeedsAI, detail(0).Error)
	assert.Equal(t, ReasonNeedsFile, detail(1).Error)
	assert.Equal(t, "no profile value for phone", detail(2).Error)
	assert.Equal(t, ReasonAmbiguous, detail(3).Error)
	assert.Equal(t, ReasonHasValue, detail(4).Error)
	assert.Equal(t, "Austin", doc.Find("input[name=city]")[0].CurrentValue())
	assert.Zero(t, fake.Slept(), "nothing touched, nothing paced")

	s := settings.Defaults()
	s.OverwriteExistingValues = true
	engine, _ = newEngine(doc, s)
	res = engine.FillForm(context.Background(), snap, []types.MappedField{prefilled})
	assert.Equal(t, 1, res.Filled)
	assert.Equal(t, "Dallas", doc.Find("input[name=city]")[0].CurrentValue())
}

func TestFillForm_TextStrategies(t *testing.T) {
	doc, snap := scan(t, `<body>
		<input name="plain">
		<input name="noexec" data-test-no-exec>
		<input name="bulk" data-test-reject-bulk>
		<input name="stubborn" data-test-reject-all>
	</body>`)
	fields := []types.MappedField{
		mapped(snap, 0, types.MethodText, "Jane"),
		mapped(snap, 1, types.MethodText, "Doe"),
		mapped(snap, 2, types.MethodText, "Ada"),
		mapped(snap, 3, types.MethodText, "Lovelace"),
	}
	engine, _ := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, fields)

	assert.Equal(t, 3, res.Filled)
	assert.Equal(t, 1, res.Uncertain)
	assert.Zero(t, res.Failed)

	noexec := doc.Find("input[name=noexec]")[0]
	assert.Equal(t, "Doe", noexec.CurrentValue())
	assert.Subset(t, doc.EventTypes(noexec), []string{"focus", "input", "change", "blur"})

	bulk := doc.Find("input[name=bulk]")[0]
	assert.Equal(t, "Ada", bulk.CurrentValue())
	assert.Contains(t, doc.EventTypes(bulk), "keydown")

	d, _ := res.Detail(3)
	assert.Equal(t, types.DetailFilledUncertain, d.Status)
	assert.Equal(t, ErrUnverified.Error(), d.Error)
}

func TestFillForm_OverwritesRichTextEditor(t *testing.T) {
	doc, snap := scan(t, `<body>
		<label for="cl">Cover letter</label>
		<div id="cl" class="ql-editor" contenteditable="true"><p>Old cover letter text</p></div>
		<div id="plain" contenteditable="true" data-test-no-exec>Previous answer</div>
	</body>`)
	require.Len(t, snap.Fields, 2)

	s := settings.Defaults()
	s.OverwriteExistingValues = true
	engine, _ := newEngine(doc, s)
	res := engine.FillForm(context.Background(), snap, []types.MappedField{
		mapped(snap, 0, types.MethodText, "I am excited to apply"),
		mapped(snap, 1, types.MethodText, "Remote first"),
	})

	assert.Equal(t, 2, res.Filled)
	assert.Equal(t, "I am excited to apply", doc.ByID("cl").Text())
	assert.Equal(t, "Remote first", doc.ByID("plain").Text())
	assert.NotContains(t, doc.ByID("cl").Text(), "Old cover letter")
}

type recordingInjector struct {
	calls []string
}

func (r *recordingInjector) SetControlledValue(ctx context.Context, el dom.Element, value string) error {
	r.calls = append(r.calls, value)
	return NativeSetter{}.SetControlledValue(ctx, el, value)
}

func TestFillForm_UsesInjectorWhenExecCommandUnsupported(t *testing.T) {
	doc, snap := scan(t, `<body><input name="a" data-test-no-exec><input name="b"></body>`)
	inj := &recordingInjector{}
	engine := New(WithDocument(doc), WithClock(clock.NewFake(time.Now())), WithInjector(inj))

	res := engine.FillForm(context.Background(), snap, []types.MappedField{
		mapped(snap, 0, types.MethodText, "via setter"),
		mapped(snap, 1, types.MethodText, "via exec"),
	})
	assert.Equal(t, 2, res.Filled)
	assert.Equal(t, []string{"via setter"}, inj.calls)
}

func TestNativeSetter(t *testing.T) {
	doc := domtest.MustParse(`<body><input id="x"></body>`)
	el := doc.ByID("x")

	require.NoError(t, NativeSetter{}.SetControlledValue(context.Background(), el, "hello"))
	assert.Equal(t, "hello", el.CurrentValue())
	assert.Equal(t, []string{"input", "change"}, doc.EventTypes(el))

	detached := domtest.MustParse(`<body><input id="x" data-test-detached></body>`).ByID("x")
	err := NativeSetter{}.SetControlledValue(context.Background(), detached, "hello")
	assert.ErrorIs(t, err, dom.ErrDetached)
}

func TestFillForm_FailuresAreContained(t *testing.T) {
	doc, snap := scan(t, `<body>
		<input name="gone" data-test-detached>
		<input name="boom" data-test-panic>
		<input name="hidden" style="display: none">
		<input name="fine">
	</body>`)
	fields := []types.MappedField{
		mapped(snap, 0, types.MethodText, "a"),
		mapped(snap, 1, types.MethodText, "b"),
		mapped(snap, 2, types.MethodText, "c"),
		mapped(snap, 3, types.MethodText, "d"),
	}
	engine, _ := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, fields)

	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Filled)

	d, _ := res.Detail(0)
	assert.Contains(t, d.Error, dom.ErrDetached.Error())
	d, _ = res.Detail(1)
	assert.Equal(t, "panic: focus handler exploded", d.Error)
	d, _ = res.Detail(2)
	assert.Equal(t, ReasonHidden, d.Error)
	assert.Equal(t, "d", doc.Find("input[name=fine]")[0].CurrentValue())
}

func TestFillForm_MissingElement(t *testing.T) {
	doc, snap := scan(t, `<body><input name="a"></body>`)
	f := mapped(snap, 0, types.MethodText, "x")
	f.Descriptor.Index = 9

	engine, _ := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, []types.MappedField{f})
	d, _ := res.Detail(9)
	assert.Equal(t, types.DetailFailed, d.Status)
	assert.Equal(t, ReasonNoElement, d.Error)
}

func TestFillForm_UnsupportedMethod(t *testing.T) {
	doc, snap := scan(t, `<body><input name="a"></body>`)
	engine, _ := newEngine(doc, settings.Defaults())
	res := engine.FillForm(context.Background(), snap, []types.MappedField{mapped(snap, 0, "signature", "x")})

	d, _ := res.Detail(0)
	assert.Equal(t, types.DetailSkipped, d.Status)
	assert.Equal(t, "unsupported fill method: signature", d.Error)
}

type cancellingLookup struct {
	*scanner.Snapshot
	at     int
	cancel context.CancelFunc
}

func (c cancellingLookup) Element(i int) (dom.Element, bool) {
	if i == c.at {
		c.cancel()
	}
	return c.Snapshot.Element(i)
}

func TestFillForm_Cancellation(t *testing.T) {
	doc, snap := scan(t, `<body><input name="a"><input name="b"><input name="c"></body>`)
	fields := []types.MappedField{
		mapped(snap, 0, types.MethodText, "1"),
		mapped(snap, 1, types.MethodText, "2"),
		mapped(snap, 2, types.MethodText, "3"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	engine, _ := newEngine(doc, settings.Defaults())

	res := engine.FillForm(ctx, cancellingLookup{Snapshot: snap, at: 1, cancel: cancel}, fields)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Filled)
	assert.Equal(t, 2, res.Skipped)
	for _, i := range []int{1, 2} {
		d, _ := res.Detail(i)
		assert.Equal(t, ReasonCancelled, d.Error)
	}
	assert.Empty(t, doc.Find("input[name=b]")[0].CurrentValue())
}

func TestFillForm_Pacing(t *testing.T) {
	for _, tt := range []struct {
		speed settings.FillSpeed
		slept time.Duration
	}{
		{settings.SpeedFast, 80 * time.Millisecond},
		{settings.SpeedNormal, 230 * time.Millisecond},
		{settings.SpeedCareful, 600 * time.Millisecond},
	} {
		t.Run(string(tt.speed), func(t *testing.T) {
			doc, snap := scan(t, `<body><input name="a"></body>`)
			s := settings.Defaults()
			s.FillSpeed = tt.speed
			engine, fake := newEngine(doc, s)

			res := engine.FillForm(context.Background(), snap, []types.MappedField{mapped(snap, 0, types.MethodText, "x")})
			require.Equal(t, 1, res.Filled)
			assert.Equal(t, tt.slept, fake.Slept())
		})
	}
}

func TestFillForm_KeystrokePacing(t *testing.T) {
	doc, snap := scan(t, `<body><input name="a" data-test-reject-bulk></body>`)
	s := settings.Defaults()
	s.FillSpeed = settings.SpeedFast
	engine, fake := newEngine(doc, s)

	res := engine.FillForm(context.Background(), snap, []types.MappedField{mapped(snap, 0, types.MethodText, "abc")})
	require.Equal(t, 1, res.Filled)
	// settle, three keystrokes, settle, field delay
	assert.Equal(t, 30*time.Millisecond+3*10*time.Millisecond+30*time.Millisecond+50*time.Millisecond, fake.Slept())
}

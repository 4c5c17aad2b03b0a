package fill

import (
	"context"
	"errors"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

var errHidden = errors.New("element is not visible")

// fillVisibleText fills a text-like control unless it is hidden.
func (e *Engine) fillVisibleText(ctx context.Context, el dom.Element, value string, delays settings.Delays) attempt {
	visible, err := el.Visible(ctx)
	if err != nil {
		return failed(err)
	}
	if !visible {
		return failed(errHidden)
	}
	return e.fillText(ctx, el, value, delays)
}

// fillText writes value, verifies it and falls back to typing it key by key.
func (e *Engine) fillText(ctx context.Context, el dom.Element, value string, delays settings.Delays) attempt {
	if err := el.Focus(ctx); err != nil {
		return failed(err)
	}
	if err := el.SetNativeValue(ctx, ""); err != nil {
		return failed(err)
	}

	supported, err := el.ExecInsertText(ctx, value)
	if err != nil {
		return failed(err)
	}
	if supported {
		err = el.Dispatch(ctx, dom.EventChange)
	} else {
		err = e.injector.SetControlledValue(ctx, el, value)
	}
	if err != nil {
		return failed(err)
	}
	_ = el.Dispatch(ctx, dom.EventBlur)

	if ok, err := e.verify(ctx, el, value, delays); err != nil {
		return failed(err)
	} else if ok {
		return filled()
	}

	e.logger.Debug().Msg("value did not stick, retrying with keystrokes")
	if err := e.typeValue(ctx, el, value, delays); err != nil {
		return failed(err)
	}
	ok, err := e.verify(ctx, el, value, delays)
	switch {
	case err != nil:
		return failed(err)
	case ok:
		return filled()
	default:
		return uncertain(ErrUnverified)
	}
}

// typeValue clears the element and types value one character at a time.
func (e *Engine) typeValue(ctx context.Context, el dom.Element, value string, delays settings.Delays) error {
	if err := el.Focus(ctx); err != nil {
		return err
	}
	if err := el.SetNativeValue(ctx, ""); err != nil {
		return err
	}
	for _, r := range value {
		if err := el.TypeRune(ctx, r); err != nil {
			return err
		}
		if err := e.clock.Sleep(ctx, delays.Keystroke); err != nil {
			return err
		}
	}
	if err := el.Dispatch(ctx, dom.EventChange); err != nil {
		return err
	}
	return el.Dispatch(ctx, dom.EventBlur)
}

// verify waits for the page to settle and reads the value back.
func (e *Engine) verify(ctx context.Context, el dom.Element, want string, delays settings.Delays) (bool, error) {
	if err := e.clock.Sleep(ctx, delays.Settle); err != nil {
		return false, err
	}
	got, err := el.Value(ctx)
	if err != nil {
		return false, err
	}
	return valuesMatch(got, want), nil
}

// fillDate normalises the profile date for native date inputs before typing it.
func (e *Engine) fillDate(ctx context.Context, el dom.Element, f types.MappedField, delays settings.Delays) attempt {
	value := f.Value
	switch f.Descriptor.Type {
	case "date", "month", "datetime-local":
		normalized, err := NormalizeDate(value, f.Descriptor.Type)
		if err != nil {
			return failed(err)
		}
		value = normalized
	}
	return e.fillVisibleText(ctx, el, value, delays)
}

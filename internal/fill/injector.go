package fill

import (
	"context"
	"fmt"

	"github.com/jonathan/job-autofill/internal/dom"
)

// ValueInjector writes a value into an input owned by a UI framework.
type ValueInjector interface {
	SetControlledValue(ctx context.Context, el dom.Element, value string) error
}

// NativeSetter calls the value setter of the element's prototype, skipping
// any setter a framework installed on the instance, then dispatches the
// input and change events the framework listens for.
type NativeSetter struct{}

// SetControlledValue implements ValueInjector.
func (NativeSetter) SetControlledValue(ctx context.Context, el dom.Element, value string) error {
	if err := el.SetNativeValue(ctx, value); err != nil {
		return fmt.Errorf("native setter: %w", err)
	}
	for _, ev := range []dom.Event{dom.EventInput, dom.EventChange} {
		if err := el.Dispatch(ctx, ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev.Type, err)
		}
	}
	return nil
}

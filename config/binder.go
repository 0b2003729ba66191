package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Binder decodes string-keyed maps into the typed configuration and checks
// it against the `validate` struct tags. Decoding uses `config` tags and
// tolerates string inputs for numbers, booleans and durations, since the env
// and CLI sources only produce strings.
type Binder struct {
	validator *validator.Validate
}

func NewBinder() *Binder {
	return &Binder{validator: validator.New()}
}

// BindError reports which stage failed: "decode" or "validate".
type BindError struct {
	Stage string
	Err   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("config %s error: %v", e.Stage, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Decode populates target from source without validating.
func (b *Binder) Decode(source map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		TagName: "config",
	})
	if err != nil {
		return &BindError{Stage: "decode", Err: err}
	}
	if err := decoder.Decode(source); err != nil {
		return &BindError{Stage: "decode", Err: err}
	}
	return nil
}

// Validate checks target against its validation tags.
func (b *Binder) Validate(target any) error {
	if err := b.validator.Struct(target); err != nil {
		return &BindError{Stage: "validate", Err: err}
	}
	return nil
}

// Bind decodes and validates in one step.
func (b *Binder) Bind(source map[string]any, target any) error {
	if err := b.Decode(source, target); err != nil {
		return err
	}
	return b.Validate(target)
}

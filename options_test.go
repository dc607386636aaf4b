package smb2

import "testing"

func TestOptionsSetDefaults(t *testing.T) {
	opts := &Options{}
	opts.setDefaults()

	if opts.ClientGUID == ([16]byte{}) {
		t.Error("setDefaults() left ClientGUID at its zero value")
	}
	if opts.ConnectTimeout <= 0 {
		t.Error("setDefaults() did not set a positive ConnectTimeout")
	}
	if opts.NegotiateTimeout <= 0 {
		t.Error("setDefaults() did not set a positive NegotiateTimeout")
	}
	if opts.Logger == nil {
		t.Error("setDefaults() left Logger nil")
	}
}

func TestOptionsSetDefaultsPreservesExplicitValues(t *testing.T) {
	guid := newGUID()
	opts := &Options{ClientGUID: guid}
	opts.setDefaults()

	if opts.ClientGUID != guid {
		t.Error("setDefaults() overwrote a caller-supplied ClientGUID")
	}
}

func TestOptionsValidateRejectsUnsupportedDialect(t *testing.T) {
	opts := &Options{SpecifiedDialect: Dialect(0x9999)}
	if err := opts.Validate(); err != ErrUnsupportedDialect {
		t.Errorf("Validate() error = %v, want %v", err, ErrUnsupportedDialect)
	}
}

func TestOptionsValidateAcceptsKnownDialect(t *testing.T) {
	opts := &Options{SpecifiedDialect: Dialect3_1_1}
	if err := opts.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestOptionsValidateRejectsNegativeTimeouts(t *testing.T) {
	opts := &Options{ConnectTimeout: -1}
	if err := opts.Validate(); err != ErrInvalidConfig {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalidConfig)
	}
}

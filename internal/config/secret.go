package config

// Secret wraps a sensitive string so that accidental logging, printing or
// serialization renders a mask instead of the value. Call Reveal at the
// single place the real value is needed.
type Secret string

const secretMask = "********"

// String implements fmt.Stringer, masking the value. Empty secrets render
// empty so logs still show whether one was provided.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

// GoString masks %#v output as well.
func (s Secret) GoString() string {
	return "config.Secret(" + s.String() + ")"
}

// MarshalJSON always emits the mask, never the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MarshalText keeps the mask in any text-based encoding.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reveal returns the wrapped value. Never pass the result to a logger.
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether a value was provided.
func (s Secret) IsSet() bool {
	return s != ""
}

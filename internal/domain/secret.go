package domain

import "fmt"

const redacted = "[REDACTED]"

// Secret holds sensitive text. Every default formatting path prints a
// redaction marker; use Reveal to get the value.
type Secret struct {
	value string
}

func NewSecret(s string) Secret {
	return Secret{value: s}
}

func (s Secret) Reveal() string {
	return s.value
}

func (s Secret) Empty() bool {
	return s.value == ""
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return "domain.Secret{" + redacted + "}"
}

// Format covers %v, %+v, %#v, %s and %q.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('#') {
			fmt.Fprint(f, s.GoString())
			return
		}
		fmt.Fprint(f, s.String())
	case 'q':
		fmt.Fprintf(f, "%q", s.String())
	default:
		fmt.Fprint(f, s.String())
	}
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

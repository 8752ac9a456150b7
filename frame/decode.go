package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DecodeError describes why a single frame was discarded
type DecodeError struct {
	Frame  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame %q: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed frame %q: %s", e.Frame, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeFrame decodes one frame of the form "<tTag><float><hTag><float>".
// Surrounding whitespace is ignored; numbers use '.' as decimal separator
// regardless of locale.
func DecodeFrame(frame, tTag, hTag string) (Reading, error) {
	body := strings.TrimSpace(frame)

	if !strings.HasPrefix(body, tTag) {
		return Reading{}, &DecodeError{Frame: frame, Reason: fmt.Sprintf("missing %q tag", tTag)}
	}
	body = strings.TrimPrefix(body, tTag)

	parts := strings.Split(body, hTag)
	if len(parts) != 2 {
		return Reading{}, &DecodeError{Frame: frame, Reason: fmt.Sprintf("expected exactly one %q tag", hTag)}
	}

	temperature, err := parseValue(parts[0])
	if err != nil {
		return Reading{}, &DecodeError{Frame: frame, Reason: "bad temperature", Err: err}
	}
	humidity, err := parseValue(parts[1])
	if err != nil {
		return Reading{}, &DecodeError{Frame: frame, Reason: "bad humidity", Err: err}
	}

	return Reading{Temperature: temperature, Humidity: humidity}, nil
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

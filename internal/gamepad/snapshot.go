package gamepad

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	ErrUnknownProfile    = errors.New("unknown snapshot profile")
)

// Profile names a button layout.
type Profile string

const (
	ProfileDInput Profile = "dinput"
	ProfileXInput Profile = "xinput"
)

// ParseProfile accepts "" (no profile) and the known profile names.
func ParseProfile(name string) (Profile, error) {
	switch p := Profile(name); p {
	case "", ProfileDInput, ProfileXInput:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// State is one point-in-time capture of a controller. Button values are
// in [0, 1]; hats are {x, y} with each component in {-1, 0, 1}.
type State struct {
	Profile Profile
	Buttons []float64
	Axes    []float64
	Hats    [][2]int
}

// Snapshot is a decoded State bound to its layout. The set of variants is
// closed: DInputSnapshot and XInputSnapshot.
type Snapshot interface {
	Profile() Profile
	State() State
	// Active returns the codes held in this snapshot, buttons first and
	// then D-pad directions.
	Active(threshold float64) []Code
	sealed()
}

var dinputFace = []Code{Y, B, A, X}

type DInputSnapshot struct{ state State }

func (s DInputSnapshot) Profile() Profile { return ProfileDInput }
func (s DInputSnapshot) State() State     { return s.state }
func (s DInputSnapshot) sealed()          {}

func (s DInputSnapshot) Active(threshold float64) []Code {
	return activeCodes(s.state, dinputFace, threshold)
}

var xinputFace = []Code{A, B, X, Y}

type XInputSnapshot struct{ state State }

func (s XInputSnapshot) Profile() Profile { return ProfileXInput }
func (s XInputSnapshot) State() State     { return s.state }
func (s XInputSnapshot) sealed()          {}

func (s XInputSnapshot) Active(threshold float64) []Code {
	return activeCodes(s.state, xinputFace, threshold)
}

func activeCodes(state State, face []Code, threshold float64) []Code {
	var codes []Code
	seen := make(map[Code]bool)
	add := func(code Code) {
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	for i, code := range face {
		if i < len(state.Buttons) && state.Buttons[i] >= threshold {
			add(code)
		}
	}
	for _, hat := range state.Hats {
		for _, code := range hatCodes(hat) {
			add(code)
		}
	}
	return codes
}

type buttonValues []float64

// UnmarshalJSON accepts numbers and booleans.
func (b *buttonValues) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("buttons is null")
	}
	values := make(buttonValues, len(raw))
	for i, item := range raw {
		switch string(bytes.TrimSpace(item)) {
		case "true":
			values[i] = 1
		case "false":
			values[i] = 0
		default:
			if err := json.Unmarshal(item, &values[i]); err != nil {
				return fmt.Errorf("button %d: %w", i, err)
			}
		}
	}
	*b = values
	return nil
}

type wireSnapshot struct {
	Profile string        `json:"profile,omitempty"`
	Buttons *buttonValues `json:"buttons"`
	Axes    []float64     `json:"axes"`
	Hats    [][]int       `json:"hats"`
}

// Decode parses one message into a Snapshot. An explicit profile tag
// decides the variant; without one the layout is probed from the array
// sizes, and fallback is used when probing is inconclusive.
func Decode(data []byte, fallback Profile) (Snapshot, error) {
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if wire.Buttons == nil {
		return nil, fmt.Errorf("%w: missing buttons", ErrMalformedSnapshot)
	}

	state := State{
		Buttons: []float64(*wire.Buttons),
		Axes:    wire.Axes,
		Hats:    make([][2]int, 0, len(wire.Hats)),
	}
	for i, hat := range wire.Hats {
		if len(hat) != 2 {
			return nil, fmt.Errorf("%w: hat %d has %d components", ErrMalformedSnapshot, i, len(hat))
		}
		state.Hats = append(state.Hats, [2]int{hat[0], hat[1]})
	}
	if err := state.validate(); err != nil {
		return nil, err
	}

	profile, err := ParseProfile(wire.Profile)
	if err != nil {
		return nil, err
	}
	if profile == "" {
		profile = probe(state)
	}
	if profile == "" {
		profile = fallback
	}
	state.Profile = profile

	switch profile {
	case ProfileDInput:
		return DInputSnapshot{state: state}, nil
	case ProfileXInput:
		return XInputSnapshot{state: state}, nil
	}
	return nil, fmt.Errorf("%w: cannot infer layout from %d buttons and %d axes", ErrUnknownProfile, len(state.Buttons), len(state.Axes))
}

// probe guesses the layout: XInput pads report six axes (two sticks and
// two triggers), DInput pads at most four and the triggers as buttons.
func probe(state State) Profile {
	switch {
	case len(state.Axes) == 6:
		return ProfileXInput
	case len(state.Axes) <= 4 && len(state.Buttons) >= 4:
		return ProfileDInput
	}
	return ""
}

func (s State) validate() error {
	for i, v := range s.Buttons {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: button %d is not finite", ErrMalformedSnapshot, i)
		}
	}
	for i, v := range s.Axes {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: axis %d is not finite", ErrMalformedSnapshot, i)
		}
	}
	for i, hat := range s.Hats {
		for _, v := range hat {
			if v < -1 || v > 1 {
				return fmt.Errorf("%w: hat %d out of range", ErrMalformedSnapshot, i)
			}
		}
	}
	return nil
}

// Encode renders s in the wire form Decode accepts.
func Encode(s State) ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if _, err := ParseProfile(string(s.Profile)); err != nil {
		return nil, err
	}
	buttons := buttonValues(s.Buttons)
	if buttons == nil {
		buttons = buttonValues{}
	}
	wire := wireSnapshot{
		Profile: string(s.Profile),
		Buttons: &buttons,
		Axes:    s.Axes,
		Hats:    make([][]int, len(s.Hats)),
	}
	if wire.Axes == nil {
		wire.Axes = []float64{}
	}
	for i, hat := range s.Hats {
		wire.Hats[i] = []int{hat[0], hat[1]}
	}
	return json.Marshal(wire)
}

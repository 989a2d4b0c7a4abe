// Package gamepad defines the controller snapshot exchanged between the
// peers and the symbolic buttons a receiver can actuate.
package gamepad

// Code is a symbolic button on the output device.
type Code int

const (
	A Code = iota + 1
	B
	X
	Y
	DpadUp
	DpadDown
	DpadLeft
	DpadRight
)

// Codes lists every symbolic button in a stable order.
var Codes = []Code{A, B, X, Y, DpadUp, DpadDown, DpadLeft, DpadRight}

var codeNames = map[Code]string{
	A:         "A",
	B:         "B",
	X:         "X",
	Y:         "Y",
	DpadUp:    "DPAD_UP",
	DpadDown:  "DPAD_DOWN",
	DpadLeft:  "DPAD_LEFT",
	DpadRight: "DPAD_RIGHT",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// hatCodes maps one hat vector to the D-pad codes it holds down. Y grows
// upwards.
func hatCodes(hat [2]int) []Code {
	var codes []Code
	switch hat[0] {
	case -1:
		codes = append(codes, DpadLeft)
	case 1:
		codes = append(codes, DpadRight)
	}
	switch hat[1] {
	case 1:
		codes = append(codes, DpadUp)
	case -1:
		codes = append(codes, DpadDown)
	}
	return codes
}

// Package features is the static, side-effect-free model→capability
// catalog the protocol core treats as an external collaborator (spec.md
// §1, §4.7): given a device model string it returns an ordered list of
// FeatureSpec describing what a driver can show and how to build the
// get_prop/set_* RPC calls for it.
package features

// ControlStyle is the UI shape a FeatureSpec renders as.
type ControlStyle struct {
	Kind ControlKind

	// Toggle
	On, Off string

	// Slider
	Min, Max, Step int
}

type ControlKind int

const (
	Toggle ControlKind = iota
	Slider
	ColorPicker
)

// Call is a (method, params) pair ready to hand to Session.CallDevice.
type Call struct {
	Method string
	Params any
}

// FeatureSpec describes one controllable capability of a device model.
type FeatureSpec struct {
	ID          string
	Label       string
	Description string
	Style       ControlStyle

	// Get builds the RPC call that reads the feature's current value.
	// Nil if the feature is write-only.
	Get func() Call

	// Set builds the RPC call that writes val, parsing/validating it
	// according to the feature's own rules.
	Set func(val string) Call
}

// Package window coordinates the two UI surfaces: the always-on-top
// Indicator and the expandable Interaction window.
package window

import "fmt"

// Kind identifies one of the two surfaces.
type Kind int

const (
	Indicator Kind = iota
	Interaction
)

func (k Kind) String() string {
	switch k {
	case Indicator:
		return "indicator"
	case Interaction:
		return "interaction"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "indicator":
		*k = Indicator
	case "interaction":
		*k = Interaction
	default:
		return fmt.Errorf("unknown window kind %q", text)
	}
	return nil
}

// Size is a window size in screen points.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect is a screen rectangle. For displays it is the work area (the screen
// minus menu bars and docks).
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Surface is a native window. Implementations must be safe for concurrent
// use.
type Surface interface {
	Show()
	Hide()
	Visible() bool
	SetPosition(x, y int)
	Bounds() Rect
	Destroy()
	Destroyed() bool
}

// Factory creates surfaces.
type Factory interface {
	Create(kind Kind) (Surface, error)
}

// AgentControl is the part of the agent manager the coordinator drives.
type AgentControl interface {
	IsRunning() bool
	StartVoiceMode() error
	StopVoiceMode() error
	Nudge() error
}

// State is the observable state of one window.
type State struct {
	Kind    Kind `json:"kind"`
	Exists  bool `json:"exists"`
	Visible bool `json:"visible"`
	Bounds  Rect `json:"bounds"`
}

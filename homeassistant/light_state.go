package homeassistant

// LightState is the state payload published retained on the state topic.
// Brightness is present only when it is known.
type LightState struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
}

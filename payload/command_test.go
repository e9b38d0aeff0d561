package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	state := func(s string) *string { return &s }
	brightness := func(b int) *int { return &b }

	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{"state and brightness", `{"state": "ON", "brightness": 128}`, Command{State: state("on"), Brightness: brightness(128)}},
		{"padded state", `{"state": " on "}`, Command{State: state("on")}},
		{"off", `{"state": "OFF"}`, Command{State: state("off")}},
		{"numeric string brightness", `{"brightness": "150"}`, Command{Brightness: brightness(150)}},
		{"float brightness", `{"brightness": 255.0}`, Command{Brightness: brightness(255)}},
		{"brightness clamped high", `{"brightness": 300}`, Command{Brightness: brightness(255)}},
		{"brightness clamped low", `{"brightness": "-10"}`, Command{Brightness: brightness(0)}},
		{"empty object", `{}`, Command{}},
		{"invalid json", `invalid-json`, Command{}},
		{"non-object", `[]`, Command{}},
		{"numeric state", `{"state": 123}`, Command{}},
		{"unrecognized state", `{"state": "dim"}`, Command{}},
		{"non-numeric brightness", `{"brightness": "invalid"}`, Command{}},
		{"null fields", `{"state": null, "brightness": null}`, Command{}},
		{"array brightness", `{"brightness": []}`, Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse([]byte(tt.raw)))
		})
	}
}

func TestCommandPredicates(t *testing.T) {
	assert.True(t, Parse([]byte(`{"state":"ON"}`)).On())
	assert.True(t, Parse([]byte(`{"state":"OFF"}`)).Off())
	assert.False(t, Parse([]byte(`{"state":"OFF"}`)).On())
	assert.True(t, Parse([]byte(`{}`)).Empty())
	assert.False(t, Parse([]byte(`{"brightness":1}`)).Empty())
}

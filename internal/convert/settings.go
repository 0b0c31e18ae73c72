package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dunamismax/convertflow/internal/svg"
)

// Settings is optional per-source configuration. SVGSettings is the only
// variant.
type Settings interface {
	settingsKind() string
}

// SVGSettings sizes the raster produced from a vector source.
type SVGSettings struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (SVGSettings) settingsKind() string { return "svg" }

func (s SVGSettings) rasterSettings() svg.Settings {
	return svg.Settings{Width: s.Width, Height: s.Height}
}

type settingsEnvelope struct {
	Type   *string `json:"type"`
	Width  *uint32 `json:"width"`
	Height *uint32 `json:"height"`
}

// ParseSettings decodes a settings payload of the form
// {"type":"svg","width":W,"height":H}. An empty or null payload yields nil
// settings. Any other shape is a CodeSettingsParse error.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var env settingsEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, Wrap(CodeSettingsParse, err)
	}
	if env.Type == nil {
		return nil, New(CodeSettingsParse, "missing field `type`")
	}

	switch *env.Type {
	case "svg":
		if env.Width == nil {
			return nil, New(CodeSettingsParse, "missing field `width`")
		}
		if env.Height == nil {
			return nil, New(CodeSettingsParse, "missing field `height`")
		}
		return SVGSettings{Width: *env.Width, Height: *env.Height}, nil
	default:
		return nil, New(CodeSettingsParse, "unknown variant %q, expected %q", *env.Type, "svg")
	}
}

// MarshalSettings encodes s in the form ParseSettings accepts. nil encodes
// as an empty payload.
func MarshalSettings(s Settings) (json.RawMessage, error) {
	switch v := s.(type) {
	case nil:
		return nil, nil
	case SVGSettings:
		return json.Marshal(struct {
			Type string `json:"type"`
			SVGSettings
		}{Type: v.settingsKind(), SVGSettings: v})
	default:
		return nil, fmt.Errorf("marshal settings: unsupported variant %T", s)
	}
}

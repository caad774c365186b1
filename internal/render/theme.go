package render

import (
	"fmt"
	"os"
	"path"
	"strings"

	"backroom/internal/domain"

	"gopkg.in/yaml.v3"
)

// Panel holds the presentation settings of one channel view.
type Panel struct {
	Title        string `yaml:"title" json:"title"`
	TitleColor   string `yaml:"titleColor" json:"titleColor"`
	TextColor    string `yaml:"textColor,omitempty" json:"textColor,omitempty"`
	SpeakerColor string `yaml:"speakerColor" json:"speakerColor"`
	BorderColor  string `yaml:"borderColor,omitempty" json:"borderColor,omitempty"`
	SpeakerClass string `yaml:"speakerClass" json:"speakerClass"` // HTML class on speaker labels
	LineClass    string `yaml:"lineClass" json:"lineClass"`       // HTML class on each line
}

// Theme is the rendering configuration passed to renderers. Nothing in the
// parsing core depends on it.
type Theme struct {
	Speakers     []string `yaml:"speakers" json:"speakers"`
	ActionColor  string   `yaml:"actionColor" json:"actionColor"`
	ActionClass  string   `yaml:"actionClass" json:"actionClass"`
	UserColor    string   `yaml:"userColor" json:"userColor"`
	MediaBaseURL string   `yaml:"mediaBaseURL" json:"mediaBaseURL"`
	Direct       Panel    `yaml:"direct" json:"direct"`
	Backroom     Panel    `yaml:"backroom" json:"backroom"`
}

// DefaultTheme is the two-panel palette: blue direct, green-on-black backroom.
func DefaultTheme() Theme {
	return Theme{
		Speakers:     []string{"Igor", "Grichka"},
		ActionColor:  "#f97316",
		ActionClass:  "text-orange-500 opacity-75",
		UserColor:    "#a78bfa",
		MediaBaseURL: "http://localhost:3000",
		Direct: Panel{
			Title:        "Direct Communication",
			TitleColor:   "#e5e7eb",
			SpeakerColor: "#3b82f6",
			SpeakerClass: "text-blue-500",
			LineClass:    "mb-1 last:mb-0",
		},
		Backroom: Panel{
			Title:        "QUANTUM SURVEILLANCE FEED",
			TitleColor:   "#ef4444",
			TextColor:    "#22c55e",
			SpeakerColor: "#4ade80",
			BorderColor:  "#14532d",
			SpeakerClass: "text-green-400",
			LineClass:    "mb-1 last:mb-0",
		},
	}
}

// Panel returns the panel settings for ch.
func (t Theme) Panel(ch domain.Channel) Panel {
	if ch == domain.ChannelBackroom {
		return t.Backroom
	}
	return t.Direct
}

// LoadTheme reads a YAML theme file. Fields absent from the file keep
// their DefaultTheme values.
func LoadTheme(path string) (Theme, error) {
	theme := DefaultTheme()
	data, err := os.ReadFile(path)
	if err != nil {
		return theme, fmt.Errorf("read theme %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &theme); err != nil {
		return DefaultTheme(), fmt.Errorf("parse theme %s: %w", path, err)
	}
	return theme, nil
}

// ResolveAttachmentURL returns the URL to display for att. User attachments
// are local and used as-is; agent attachments without an http(s) URL are
// served from <mediaBase>/media/generated/<basename>.
func ResolveAttachmentURL(mediaBase string, att domain.Attachment, from domain.Sender) string {
	if from == domain.SenderUser {
		return att.URL
	}
	if strings.HasPrefix(att.URL, "http://") || strings.HasPrefix(att.URL, "https://") {
		return att.URL
	}
	base := path.Base(att.URL)
	if base == "." || base == "/" {
		base = ""
	}
	return strings.TrimRight(mediaBase, "/") + "/media/generated/" + base
}

// IsImage reports whether att should be displayed inline.
func IsImage(att domain.Attachment) bool {
	return strings.HasPrefix(att.ContentType, "image/")
}

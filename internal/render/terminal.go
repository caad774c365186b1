package render

import (
	"io"
	"strings"

	"backroom/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

type panelStyles struct {
	title   lipgloss.Style
	text    lipgloss.Style
	speaker lipgloss.Style
	gutter  lipgloss.Style
}

// Terminal renders messages for an ANSI terminal using lipgloss. With color
// disabled it emits the same layout as plain text.
type Terminal struct {
	theme    Theme
	color    bool
	action   lipgloss.Style
	user     lipgloss.Style
	direct   panelStyles
	backroom panelStyles
}

// NewTerminal builds a renderer whose color profile is detected from w.
func NewTerminal(w io.Writer, theme Theme, color bool) *Terminal {
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		theme:    theme,
		color:    color,
		action:   r.NewStyle().Italic(true).Foreground(lipgloss.Color(theme.ActionColor)),
		user:     r.NewStyle().Bold(true).Foreground(lipgloss.Color(theme.UserColor)),
		direct:   newPanelStyles(r, theme.Direct),
		backroom: newPanelStyles(r, theme.Backroom),
	}
	return t
}

func newPanelStyles(r *lipgloss.Renderer, p Panel) panelStyles {
	ps := panelStyles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color(p.TitleColor)),
		text:    r.NewStyle(),
		speaker: r.NewStyle().Bold(true).Foreground(lipgloss.Color(p.SpeakerColor)),
		gutter:  r.NewStyle(),
	}
	if p.TextColor != "" {
		ps.text = ps.text.Foreground(lipgloss.Color(p.TextColor))
	}
	if p.BorderColor != "" {
		ps.gutter = ps.gutter.Foreground(lipgloss.Color(p.BorderColor))
	}
	return ps
}

func (t *Terminal) styles(ch domain.Channel) panelStyles {
	if ch == domain.ChannelBackroom {
		return t.backroom
	}
	return t.direct
}

func (t *Terminal) paint(s lipgloss.Style, text string) string {
	if !t.color {
		return text
	}
	return s.Render(text)
}

// Header returns the title bar of the panel for ch.
func (t *Terminal) Header(ch domain.Channel) string {
	title := "== " + t.theme.Panel(ch).Title + " =="
	return t.paint(t.styles(ch).title, title)
}

// Line renders one line for the panel of ch.
func (t *Terminal) Line(line string, ch domain.Channel) string {
	ps := t.styles(ch)
	var sb strings.Builder
	for _, tok := range Tokenize(line, t.theme.Speakers) {
		switch tok.Kind {
		case TokenSpeaker:
			sb.WriteString(t.paint(ps.speaker, tok.Text+":"))
		case TokenAction:
			sb.WriteString(t.paint(t.action, "*"+tok.Text+"*"))
		default:
			sb.WriteString(t.paint(ps.text, tok.Text))
		}
	}
	return sb.String()
}

// Message renders m as it appears in the view for its channel. User
// messages are prefixed "you>", backroom lines get a gutter.
func (t *Terminal) Message(m domain.Message) string {
	ps := t.styles(m.Channel)
	var sb strings.Builder
	for _, line := range Lines(m.Text) {
		switch {
		case m.FromUser():
			sb.WriteString(t.paint(t.user, "you> "))
			sb.WriteString(line)
		case m.Channel == domain.ChannelBackroom:
			sb.WriteString(t.paint(ps.gutter, "│ "))
			sb.WriteString(t.Line(line, m.Channel))
		default:
			sb.WriteString(t.Line(line, m.Channel))
		}
		sb.WriteString("\n")
	}
	for _, att := range m.Attachments {
		kind := "file"
		if IsImage(att) {
			kind = "image"
		}
		sb.WriteString("  [" + kind + ": " + att.Title + "] ")
		sb.WriteString(ResolveAttachmentURL(t.theme.MediaBaseURL, att, m.Sender))
		sb.WriteString("\n")
	}
	return sb.String()
}

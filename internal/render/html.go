package render

import (
	"html"
	"strings"

	"backroom/internal/domain"
)

// HTML renders messages as escaped HTML fragments. Message text is always
// escaped before markup is added.
type HTML struct {
	theme Theme
}

func NewHTML(theme Theme) *HTML {
	return &HTML{theme: theme}
}

// Line renders one line for the panel of ch.
func (h *HTML) Line(line string, ch domain.Channel) string {
	panel := h.theme.Panel(ch)
	var sb strings.Builder
	for _, tok := range Tokenize(line, h.theme.Speakers) {
		switch tok.Kind {
		case TokenSpeaker:
			sb.WriteString(`<strong class="` + html.EscapeString(panel.SpeakerClass) + `">`)
			sb.WriteString(html.EscapeString(tok.Text))
			sb.WriteString(":</strong>")
		case TokenAction:
			sb.WriteString(`<em class="` + html.EscapeString(h.theme.ActionClass) + `">*`)
			sb.WriteString(html.EscapeString(tok.Text))
			sb.WriteString("*</em>")
		default:
			sb.WriteString(html.EscapeString(tok.Text))
		}
	}
	return sb.String()
}

// Message renders m as one <div> per line followed by inline images.
func (h *HTML) Message(m domain.Message) string {
	panel := h.theme.Panel(m.Channel)
	var sb strings.Builder
	for _, line := range Lines(m.Text) {
		sb.WriteString(`<div class="` + html.EscapeString(panel.LineClass) + `">`)
		sb.WriteString(h.Line(line, m.Channel))
		sb.WriteString("</div>\n")
	}
	for _, att := range m.Attachments {
		if !IsImage(att) {
			continue
		}
		alt := att.Title
		if alt == "" {
			alt = "Attached image"
		}
		src := ResolveAttachmentURL(h.theme.MediaBaseURL, att, m.Sender)
		sb.WriteString(`<img src="` + html.EscapeString(src) + `" alt="` + html.EscapeString(alt) + `">` + "\n")
	}
	return sb.String()
}

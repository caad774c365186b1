// Package demux splits a raw agent reply into channel-tagged messages.
//
// A reply is parsed in exactly one of two modes, chosen up front by
// HasMarkers:
//   - marker mode: the agent wrapped its output in [DIRECT]...[/DIRECT] and
//     [BACKROOM]...[/BACKROOM] spans;
//   - heuristic mode: each line is routed by content (asterisked stage
//     directions and lines mentioning "phone" go to the backroom).
//
// Everything here is pure and safe for concurrent use.
package demux

import (
	"regexp"
	"strings"

	"backroom/internal/domain"
)

// Reserved marker tokens of the agent wire protocol. They are not escaped:
// agent text that uses them for anything else is misinterpreted.
const (
	DirectOpen    = "[DIRECT]"
	DirectClose   = "[/DIRECT]"
	BackroomOpen  = "[BACKROOM]"
	BackroomClose = "[/BACKROOM]"
)

// DefaultAuthor is the display name stamped on agent messages by Split.
const DefaultAuthor = "agent"

var (
	directSpan   = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(DirectOpen) + `(.*?)` + regexp.QuoteMeta(DirectClose))
	backroomSpan = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(BackroomOpen) + `(.*?)` + regexp.QuoteMeta(BackroomClose))
)

// Mode tells which parsing tier produced a Result.
type Mode int

const (
	ModeHeuristic Mode = iota
	ModeMarker
)

func (m Mode) String() string {
	switch m {
	case ModeMarker:
		return "marker"
	case ModeHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// Result is the parsed form of one reply. It is either a *MarkerResult or a
// *HeuristicResult.
type Result interface {
	Mode() Mode
	// Messages returns 0-2 agent messages, Direct before Backroom.
	Messages(author string) []domain.Message
}

// MarkerResult holds the first span found for each channel. A nil field
// means no complete span existed for that channel.
type MarkerResult struct {
	Direct   *string
	Backroom *string
}

func (*MarkerResult) Mode() Mode { return ModeMarker }

func (r *MarkerResult) Messages(author string) []domain.Message {
	var out []domain.Message
	if r.Direct != nil {
		out = append(out, agentMessage(*r.Direct, domain.ChannelDirect, author))
	}
	if r.Backroom != nil {
		out = append(out, agentMessage(*r.Backroom, domain.ChannelBackroom, author))
	}
	return out
}

// HeuristicResult holds the trimmed, non-empty lines routed to each channel.
type HeuristicResult struct {
	DirectLines   []string
	BackroomLines []string
}

func (*HeuristicResult) Mode() Mode { return ModeHeuristic }

func (r *HeuristicResult) Messages(author string) []domain.Message {
	var out []domain.Message
	if len(r.DirectLines) > 0 {
		out = append(out, agentMessage(strings.Join(r.DirectLines, "\n"), domain.ChannelDirect, author))
	}
	if len(r.BackroomLines) > 0 {
		out = append(out, agentMessage(strings.Join(r.BackroomLines, "\n"), domain.ChannelBackroom, author))
	}
	return out
}

// HasMarkers reports whether raw uses the explicit marker protocol.
// Only opening tokens count; a lone closing token does not switch modes.
func HasMarkers(raw string) bool {
	return strings.Contains(raw, DirectOpen) || strings.Contains(raw, BackroomOpen)
}

// Parse classifies raw and runs exactly one tier over it.
func Parse(raw string) Result {
	if HasMarkers(raw) {
		return parseMarkers(raw)
	}
	return parseHeuristic(raw)
}

// Split demultiplexes raw into agent messages authored by DefaultAuthor.
func Split(raw string) []domain.Message {
	return Parse(raw).Messages(DefaultAuthor)
}

// SplitAs is Split with an explicit author name.
func SplitAs(raw, author string) []domain.Message {
	if author == "" {
		author = DefaultAuthor
	}
	return Parse(raw).Messages(author)
}

func parseMarkers(raw string) *MarkerResult {
	return &MarkerResult{
		Direct:   firstSpan(directSpan, raw),
		Backroom: firstSpan(backroomSpan, raw),
	}
}

// firstSpan returns the trimmed content of the first minimal match, or nil.
func firstSpan(re *regexp.Regexp, raw string) *string {
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	s := strings.TrimSpace(m[1])
	return &s
}

func parseHeuristic(raw string) *HeuristicResult {
	r := &HeuristicResult{}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isBackroomLine(trimmed) {
			r.BackroomLines = append(r.BackroomLines, trimmed)
		} else {
			r.DirectLines = append(r.DirectLines, trimmed)
		}
	}
	return r
}

// isBackroomLine is a coarse content sniff: action markup or any mention
// of "phone" (case sensitive) marks side-channel content.
func isBackroomLine(line string) bool {
	return strings.Contains(line, "*") || strings.Contains(line, "phone")
}

func agentMessage(text string, ch domain.Channel, author string) domain.Message {
	return domain.Message{
		Text:    text,
		Sender:  domain.SenderAgent,
		Author:  author,
		Channel: ch,
	}
}

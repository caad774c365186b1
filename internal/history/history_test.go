package history

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"backroom/internal/domain"
)

func msg(text string, ch domain.Channel, sender domain.Sender) domain.Message {
	return domain.Message{Text: text, Channel: ch, Sender: sender}
}

func TestAppendBatch_Order(t *testing.T) {
	l := New(nil)
	if err := l.Append(msg("u", domain.ChannelDirect, domain.SenderUser)); err != nil {
		t.Fatal(err)
	}
	if err := l.AppendBatch([]domain.Message{
		msg("a", domain.ChannelDirect, domain.SenderAgent),
		msg("b", domain.ChannelBackroom, domain.SenderAgent),
	}); err != nil {
		t.Fatal(err)
	}

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snap))
	}
	for i, want := range []string{"u", "a", "b"} {
		if snap[i].Text != want {
			t.Errorf("snap[%d] = %q, want %q", i, snap[i].Text, want)
		}
	}
}

func TestAppendBatch_RejectsUnassignedChannel(t *testing.T) {
	l := New(nil)
	err := l.AppendBatch([]domain.Message{
		msg("ok", domain.ChannelDirect, domain.SenderAgent),
		msg("bad", "", domain.SenderAgent),
	})
	if !errors.Is(err, ErrUnassignedChannel) {
		t.Fatalf("expected ErrUnassignedChannel, got %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("a rejected batch must not be partially applied, len = %d", l.Len())
	}
}

func TestAppendBatch_EmptyIsNoop(t *testing.T) {
	l := New(nil)
	called := false
	l.OnAppend("t", func([]domain.Message) { called = true })
	if err := l.AppendBatch(nil); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("listener should not fire for an empty batch")
	}
}

func TestAppendBatch_StampsCreatedAt(t *testing.T) {
	l := New(nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	preset := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := msg("kept", domain.ChannelDirect, domain.SenderAgent)
	m.CreatedAt = preset
	_ = l.AppendBatch([]domain.Message{msg("new", domain.ChannelDirect, domain.SenderAgent), m})

	snap := l.Snapshot()
	if !snap[0].CreatedAt.Equal(fixed) {
		t.Errorf("expected stamped time, got %v", snap[0].CreatedAt)
	}
	if !snap[1].CreatedAt.Equal(preset) {
		t.Errorf("preset time should be kept, got %v", snap[1].CreatedAt)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	l := New(nil)
	m := msg("x", domain.ChannelDirect, domain.SenderUser)
	m.Attachments = []domain.Attachment{{URL: "file:///a.png"}}
	_ = l.Append(m)

	snap := l.Snapshot()
	snap[0].Text = "mutated"
	snap[0].Attachments[0].URL = "mutated"

	again := l.Snapshot()
	if again[0].Text != "x" || again[0].Attachments[0].URL != "file:///a.png" {
		t.Errorf("history was mutated through a snapshot: %+v", again[0])
	}
}

func TestByChannel(t *testing.T) {
	l := New(nil)
	_ = l.AppendBatch([]domain.Message{
		msg("user", domain.ChannelDirect, domain.SenderUser),
		msg("direct", domain.ChannelDirect, domain.SenderAgent),
		msg("side", domain.ChannelBackroom, domain.SenderAgent),
		msg("user-in-backroom", domain.ChannelBackroom, domain.SenderUser),
	})

	var directTexts []string
	for _, m := range l.ByChannel(domain.ChannelDirect) {
		directTexts = append(directTexts, m.Text)
	}
	if fmt.Sprint(directTexts) != "[user direct user-in-backroom]" {
		t.Errorf("direct view = %v", directTexts)
	}

	var backTexts []string
	for _, m := range l.ByChannel(domain.ChannelBackroom) {
		backTexts = append(backTexts, m.Text)
	}
	if fmt.Sprint(backTexts) != "[side user-in-backroom]" {
		t.Errorf("backroom view = %v", backTexts)
	}
}

func TestOnAppend_ReplaceAndOff(t *testing.T) {
	l := New(nil)
	var first, second int
	l.OnAppend("view", func(b []domain.Message) { first += len(b) })
	l.OnAppend("view", func(b []domain.Message) { second += len(b) })

	_ = l.Append(msg("a", domain.ChannelDirect, domain.SenderAgent))
	if first != 0 || second != 1 {
		t.Errorf("replaced listener fired: first=%d second=%d", first, second)
	}

	l.Off("view")
	_ = l.Append(msg("b", domain.ChannelDirect, domain.SenderAgent))
	if second != 1 {
		t.Errorf("listener fired after Off: %d", second)
	}
}

func TestAppendBatch_ConcurrentBatchesDoNotInterleave(t *testing.T) {
	l := New(nil)

	var mu sync.Mutex
	var seen [][]domain.Message
	l.OnAppend("rec", func(b []domain.Message) {
		mu.Lock()
		seen = append(seen, b)
		mu.Unlock()
	})

	const workers = 16
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_ = l.AppendBatch([]domain.Message{
				msg(fmt.Sprintf("%d-direct", w), domain.ChannelDirect, domain.SenderAgent),
				msg(fmt.Sprintf("%d-backroom", w), domain.ChannelBackroom, domain.SenderAgent),
			})
		}(w)
	}
	wg.Wait()

	snap := l.Snapshot()
	if len(snap) != workers*2 {
		t.Fatalf("expected %d messages, got %d", workers*2, len(snap))
	}
	for i := 0; i < len(snap); i += 2 {
		var w int
		if _, err := fmt.Sscanf(snap[i].Text, "%d-direct", &w); err != nil {
			t.Fatalf("snap[%d] = %q, expected a direct message at even index", i, snap[i].Text)
		}
		if snap[i+1].Text != fmt.Sprintf("%d-backroom", w) {
			t.Fatalf("batch %d interleaved: %q followed by %q", w, snap[i].Text, snap[i+1].Text)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != workers {
		t.Fatalf("expected %d notifications, got %d", workers, len(seen))
	}
	for i, b := range seen {
		if b[0].Text != snap[2*i].Text {
			t.Errorf("notification %d out of append order: %q vs %q", i, b[0].Text, snap[2*i].Text)
		}
	}
}

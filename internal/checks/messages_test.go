package checks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "vigil/pkg/logx"
)

type fakeSource struct {
	msgs []Message
	err  error
}

func (f *fakeSource) Fetch(ctx context.Context) ([]Message, error) {
	return f.msgs, f.err
}

func at(min int) time.Time {
	return time.Date(2025, 6, 9, 9, min, 0, 0, time.UTC)
}

func newMessagesCheck(t *testing.T, src *fakeSource, cfg MessagesConfig) (*Messages, *FileWatermarks) {
	t.Helper()
	marks := NewFileWatermarks(filepath.Join(t.TempDir(), "watermarks.json"))
	return NewMessages(src, marks, cfg, logx.Nop()), marks
}

func TestMessagesReportsNew(t *testing.T) {
	t.Parallel()

	src := &fakeSource{msgs: []Message{
		{Source: "!ops:x", Sender: "@ana:x", Body: "deploy is done", At: at(1)},
		{Source: "!ops:x", Sender: "@bob:x", Body: "thanks", At: at(2)},
	}}
	check, _ := newMessagesCheck(t, src, MessagesConfig{})

	res := check.Run(context.Background())
	if !res.OK {
		t.Fatalf("OK = false: %s", res.Message)
	}
	if got := res.Data[DataNew].(int); got != 2 {
		t.Errorf("new = %d, want 2", got)
	}
	if !strings.Contains(res.Message, "2 new from @ana:x, @bob:x") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestMessagesSkipsSeen(t *testing.T) {
	t.Parallel()

	src := &fakeSource{msgs: []Message{
		{Source: "!ops:x", Sender: "@ana:x", Body: "first", At: at(1)},
	}}
	check, _ := newMessagesCheck(t, src, MessagesConfig{})

	check.Run(context.Background())

	// Same window plus one genuinely new message.
	src.msgs = append(src.msgs, Message{Source: "!ops:x", Sender: "@ana:x", Body: "second", At: at(5)})
	res := check.Run(context.Background())
	if got := res.Data[DataNew].(int); got != 1 {
		t.Fatalf("new = %d, want 1 (seen message re-reported)", got)
	}
}

func TestMessagesWatermarkAdvancesPastFiltered(t *testing.T) {
	t.Parallel()

	// Only a bot message arrives. It must never be surfaced, but its
	// timestamp must be consumed so it cannot resurface later.
	src := &fakeSource{msgs: []Message{
		{Source: "!ops:x", Sender: "@bridge:x", Body: "relay noise", At: at(3)},
	}}
	check, marks := newMessagesCheck(t, src, MessagesConfig{
		IgnoreSenders: []string{"@bridge:x"},
	})

	res := check.Run(context.Background())
	if got := res.Data[DataNew].(int); got != 0 {
		t.Fatalf("new = %d, want 0 (bot filtered)", got)
	}

	persisted, err := marks.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !persisted["!ops:x"].Equal(at(3)) {
		t.Fatalf("watermark = %v, want %v (advanced past filtered message)", persisted["!ops:x"], at(3))
	}
}

func TestMessagesIgnoresSelf(t *testing.T) {
	t.Parallel()

	src := &fakeSource{msgs: []Message{
		{Source: "!ops:x", Sender: "@vigil:x", Body: "briefing output", At: at(1)},
	}}
	check, _ := newMessagesCheck(t, src, MessagesConfig{SelfID: "@vigil:x"})

	res := check.Run(context.Background())
	if got := res.Data[DataNew].(int); got != 0 {
		t.Fatalf("new = %d, want 0 (own messages ignored)", got)
	}
}

func TestMessagesPriority(t *testing.T) {
	t.Parallel()

	src := &fakeSource{msgs: []Message{
		{Source: "!ops:x", Sender: "@boss:x", Body: "prod is down\ndetails follow", At: at(1)},
		{Source: "!ops:x", Sender: "@ana:x", Body: "looking", At: at(2)},
	}}
	check, _ := newMessagesCheck(t, src, MessagesConfig{PrioritySenders: []string{"@boss:x"}})

	res := check.Run(context.Background())
	urgent := res.Data[DataPriority].([]PriorityMessage)
	if len(urgent) != 1 {
		t.Fatalf("priority = %v, want 1 entry", urgent)
	}
	if urgent[0].Sender != "@boss:x" || urgent[0].Preview != "prod is down" {
		t.Errorf("priority[0] = %+v", urgent[0])
	}
	if !strings.Contains(res.Message, "1 priority") {
		t.Errorf("message = %q, want priority count", res.Message)
	}
}

func TestMessagesFetchError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("homeserver unreachable")}
	check, _ := newMessagesCheck(t, src, MessagesConfig{})

	res := check.Run(context.Background())
	if res.OK {
		t.Fatal("OK = true, want false on fetch error")
	}
	if !strings.Contains(res.Message, "homeserver unreachable") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestPreviewTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ü", 120)
	got := preview(long)
	if want := strings.Repeat("ü", 80) + "…"; got != want {
		t.Fatalf("preview length = %d runes", len([]rune(got)))
	}
}

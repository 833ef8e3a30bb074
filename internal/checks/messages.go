package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	logx "vigil/pkg/logx"
)

// previewLen caps the body excerpt carried into the briefing.
const previewLen = 80

// MessageSource yields recent messages across every watched source.
// Implementations return whatever window they have; the check trims
// to what is new.
type MessageSource interface {
	Fetch(ctx context.Context) ([]Message, error)
}

// Message is one inbound item from a source (a Matrix room, a
// channel).
type Message struct {
	Source string
	Sender string
	Body   string
	At     time.Time
}

// PriorityMessage is the briefing payload for one message from a
// priority sender.
type PriorityMessage struct {
	Sender  string `json:"sender"`
	Source  string `json:"source"`
	Preview string `json:"preview"`
}

// MessagesConfig tunes the messages check.
type MessagesConfig struct {
	// IgnoreSenders are exact IDs treated as non-human.
	IgnoreSenders []string
	// PrioritySenders flag a beat urgent when they have new messages.
	PrioritySenders []string
	// SelfID is the agent's own user, always ignored.
	SelfID string
}

// Messages reports new inbound messages since the last beat,
// advancing a per-source watermark so nothing is reported twice. The
// watermark advances past filtered items too: a bot message consumes
// its timestamp even though it is never surfaced.
type Messages struct {
	src      MessageSource
	marks    WatermarkStore
	ignore   map[string]bool
	priority map[string]bool
	log      logx.Logger

	mu     sync.Mutex
	water  map[string]time.Time
	loaded bool
}

func NewMessages(src MessageSource, marks WatermarkStore, cfg MessagesConfig, log logx.Logger) *Messages {
	if log.IsZero() {
		log = logx.Nop()
	}
	ignore := make(map[string]bool, len(cfg.IgnoreSenders)+1)
	for _, id := range cfg.IgnoreSenders {
		ignore[id] = true
	}
	if cfg.SelfID != "" {
		ignore[cfg.SelfID] = true
	}
	priority := make(map[string]bool, len(cfg.PrioritySenders))
	for _, id := range cfg.PrioritySenders {
		priority[id] = true
	}
	return &Messages{
		src:      src,
		marks:    marks,
		ignore:   ignore,
		priority: priority,
		log:      log,
	}
}

func (m *Messages) Name() string { return "messages" }

func (m *Messages) Run(ctx context.Context) Result {
	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		water, err := m.marks.Load()
		if err != nil {
			// Start from scratch; worst case we re-report once.
			m.log.Warn("load watermarks failed", logx.Err(err))
			water = map[string]time.Time{}
		}
		m.water = water
		m.loaded = true
	}

	msgs, err := m.src.Fetch(ctx)
	if err != nil {
		return Result{
			Name:    m.Name(),
			OK:      false,
			Message: fmt.Sprintf("fetch: %v", err),
			Took:    time.Since(start),
		}
	}

	var (
		newCount int
		senders  = map[string]bool{}
		urgent   []PriorityMessage
	)
	for _, msg := range msgs {
		if !msg.At.After(m.water[msg.Source]) {
			continue // already seen
		}
		// Advance before filtering: filtered items are consumed, not
		// retried.
		m.water[msg.Source] = msg.At
		if m.ignore[msg.Sender] {
			continue
		}
		newCount++
		senders[msg.Sender] = true
		if m.priority[msg.Sender] {
			urgent = append(urgent, PriorityMessage{
				Sender:  msg.Sender,
				Source:  msg.Source,
				Preview: preview(msg.Body),
			})
		}
	}

	if err := m.marks.Save(m.water); err != nil {
		m.log.Warn("save watermarks failed", logx.Err(err))
	}

	names := make([]string, 0, len(senders))
	for s := range senders {
		names = append(names, s)
	}
	sort.Strings(names)

	res := Result{
		Name: m.Name(),
		OK:   true,
		Took: time.Since(start),
		Data: map[string]any{
			DataNew:      newCount,
			DataSenders:  names,
			DataPriority: urgent,
		},
	}
	switch {
	case newCount == 0:
		res.Message = "no new messages"
	case len(urgent) > 0:
		res.Message = fmt.Sprintf("%d new from %s (%d priority)",
			newCount, strings.Join(names, ", "), len(urgent))
	default:
		res.Message = fmt.Sprintf("%d new from %s", newCount, strings.Join(names, ", "))
	}
	return res
}

func preview(body string) string {
	line := body
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > previewLen {
		rs := []rune(line)
		line = string(rs[:previewLen]) + "…"
	}
	return line
}

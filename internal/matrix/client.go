// Package matrix is a minimal Matrix client-server API client: just
// enough to read recent room messages and post notices. No sync loop,
// no crypto, no state cache.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "vigil/pkg/logx"
)

type Config struct {
	Homeserver  string
	AccessToken string
	UserID      string
}

// Message is one room message, oldest-first when returned in a slice.
type Message struct {
	RoomID string
	Sender string
	Body   string
	At     time.Time
}

type Client struct {
	baseURL string
	token   string
	userID  string
	hc      *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	hs := strings.TrimRight(strings.TrimSpace(cfg.Homeserver), "/")
	if hs == "" {
		return nil, fmt.Errorf("matrix: homeserver is required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("matrix: access token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: hs + "/_matrix/client/v3",
		token:   cfg.AccessToken,
		userID:  strings.TrimSpace(cfg.UserID),
		hc:      &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}, nil
}

// UserID returns the configured (not server-verified) user ID.
func (c *Client) UserID() string { return c.userID }

// WhoAmI validates the access token and returns the server's user ID.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	if err := c.get(ctx, "/account/whoami", nil, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// JoinedRooms lists the room IDs the account is joined to.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	var out struct {
		JoinedRooms []string `json:"joined_rooms"`
	}
	if err := c.get(ctx, "/joined_rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.JoinedRooms, nil
}

// RecentMessages returns up to limit of the newest m.room.message
// events in the room, oldest first. Edits (m.replace relations) are
// dropped and rich-reply quote fallbacks are stripped from bodies.
func (c *Client) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("dir", "b")
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Chunk []struct {
			Type           string `json:"type"`
			Sender         string `json:"sender"`
			OriginServerTS int64  `json:"origin_server_ts"`
			Content        struct {
				MsgType   string `json:"msgtype"`
				Body      string `json:"body"`
				RelatesTo struct {
					RelType string `json:"rel_type"`
				} `json:"m.relates_to"`
			} `json:"content"`
		} `json:"chunk"`
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Chunk))
	// chunk is newest-first; walk backwards.
	for i := len(out.Chunk) - 1; i >= 0; i-- {
		ev := out.Chunk[i]
		if ev.Type != "m.room.message" {
			continue
		}
		if ev.Content.RelatesTo.RelType == "m.replace" {
			continue
		}
		body := stripReplyFallback(ev.Content.Body)
		if strings.TrimSpace(body) == "" {
			continue
		}
		msgs = append(msgs, Message{
			RoomID: roomID,
			Sender: ev.Sender,
			Body:   body,
			At:     time.UnixMilli(ev.OriginServerTS),
		})
	}
	return msgs, nil
}

// SendNotice posts an m.notice to the room. Notices are the
// conventional msgtype for bot output (clients render them muted and
// other bots ignore them).
func (c *Client) SendNotice(ctx context.Context, roomID, text string) error {
	body := map[string]any{
		"msgtype": "m.notice",
		"body":    text,
	}
	txn := uuid.NewString()
	path := "/rooms/" + url.PathEscape(roomID) + "/send/m.room.message/" + txn
	return c.put(ctx, path, body, nil)
}

// ResolveAlias resolves a #room:server alias to its room ID. Plain
// room IDs pass through untouched.
func (c *Client) ResolveAlias(ctx context.Context, room string) (string, error) {
	if !strings.HasPrefix(room, "#") {
		return room, nil
	}
	var out struct {
		RoomID string `json:"room_id"`
	}
	if err := c.get(ctx, "/directory/room/"+url.PathEscape(room), nil, &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) put(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("matrix: encode request: %w", err)
		}
		body = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("matrix: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("matrix: decode %s %s: %w", method, path, err)
	}
	return nil
}

func apiError(method, path string, resp *http.Response) error {
	var e struct {
		Errcode string `json:"errcode"`
		Error   string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &e) == nil && e.Errcode != "" {
		return fmt.Errorf("matrix: %s %s: %s (%s: %s)", method, path, resp.Status, e.Errcode, e.Error)
	}
	return fmt.Errorf("matrix: %s %s: %s", method, path, resp.Status)
}

// stripReplyFallback removes the quoted "> ..." preamble a rich reply
// carries in its plain-text body.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], "> ") {
		i++
	}
	if i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

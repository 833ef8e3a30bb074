package app

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"vigil/internal/checks"
	"vigil/internal/matrix"
	logx "vigil/pkg/logx"
)

// roomSource feeds the messages check by fanning in the recent history
// of every joined room. A room that fails to fetch is logged and
// skipped; only the room-list call itself fails the whole fetch.
type roomSource struct {
	client *matrix.Client
	limit  int
	log    logx.Logger
}

func newRoomSource(client *matrix.Client, limit int, log logx.Logger) *roomSource {
	if limit <= 0 {
		limit = 40
	}
	return &roomSource{client: client, limit: limit, log: log}
}

func (s *roomSource) Fetch(ctx context.Context) ([]checks.Message, error) {
	rooms, err := s.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}

	var (
		mu  sync.Mutex
		out []checks.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, room := range rooms {
		room := room
		g.Go(func() error {
			msgs, err := s.client.RecentMessages(gctx, room, s.limit)
			if err != nil {
				s.log.Warn("room history fetch failed", logx.String("room", room), logx.Err(err))
				return nil
			}
			conv := make([]checks.Message, 0, len(msgs))
			for _, m := range msgs {
				conv = append(conv, checks.Message{
					Source: m.RoomID,
					Sender: m.Sender,
					Body:   m.Body,
					At:     m.At,
				})
			}
			mu.Lock()
			out = append(out, conv...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

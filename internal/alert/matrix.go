package alert

import (
	"context"
	"fmt"
	"sync"

	"vigil/internal/matrix"
)

// Matrix posts alerts as notices into a single room. The room may be
// given as an alias; it is resolved on first use and cached, so a
// homeserver that is down at boot does not wedge construction.
type Matrix struct {
	client *matrix.Client
	room   string

	mu       sync.Mutex
	resolved string
}

func NewMatrix(client *matrix.Client, room string) *Matrix {
	return &Matrix{client: client, room: room}
}

func (m *Matrix) Notify(ctx context.Context, text string) error {
	roomID, err := m.roomID(ctx)
	if err != nil {
		return fmt.Errorf("resolve alert room: %w", err)
	}
	return m.client.SendNotice(ctx, roomID, text)
}

func (m *Matrix) roomID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved != "" {
		return m.resolved, nil
	}
	id, err := m.client.ResolveAlias(ctx, m.room)
	if err != nil {
		return "", err
	}
	m.resolved = id
	return id, nil
}

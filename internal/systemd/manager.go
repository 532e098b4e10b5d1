package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager drives a PHP application's systemd unit over D-Bus.
type Manager struct {
	conn *dbus.Conn
}

// NewManager connects to the system bus, where production worker units live.
// Falls back to the user bus for development hosts running workerd under a
// user session.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		conn, err = dbus.NewUserConnectionContext(ctx)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{conn: conn}, nil
}

// GetServiceStatus returns the unit's ActiveState (active, inactive, failed).
func (m *Manager) GetServiceStatus(ctx context.Context, unit string) (string, error) {
	prop, err := m.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return "", err
	}
	state, ok := prop.Value.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected ActiveState type for %s: %v", unit, prop.Value)
	}
	return state, nil
}

// StartService starts the unit and waits for the job to finish.
func (m *Manager) StartService(ctx context.Context, unit string) error {
	return m.runJob(ctx, unit, m.conn.StartUnitContext)
}

// StopService stops the unit and waits for the job to finish.
func (m *Manager) StopService(ctx context.Context, unit string) error {
	return m.runJob(ctx, unit, m.conn.StopUnitContext)
}

// RestartService restarts the unit and waits for the job to finish.
func (m *Manager) RestartService(ctx context.Context, unit string) error {
	return m.runJob(ctx, unit, m.conn.RestartUnitContext)
}

func (m *Manager) runJob(ctx context.Context, unit string, enqueue func(context.Context, string, string, chan<- string) (int, error)) error {
	done := make(chan string, 1)
	if _, err := enqueue(ctx, unit, "replace", done); err != nil {
		return err
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("systemd job for %s ended with result %q", unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

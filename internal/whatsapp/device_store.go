package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"soporte_wa/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

// DeviceIndex remembers which paired device belongs to which agent
type DeviceIndex interface {
	DeviceID(ctx context.Context, agentID string) (string, error)
}

// DeviceStore keeps the pairing credentials of every agent. With sqlite
// each agent gets its own database file; with postgres all agents share
// one database and the index maps agents to devices.
type DeviceStore struct {
	driver string
	dsn    string
	dir    string
	index  DeviceIndex
	log    zerolog.Logger

	mu         sync.Mutex
	shared     *sqlstore.Container
	containers map[string]*sqlstore.Container
}

// NewDeviceStore opens the credential store described by cfg
func NewDeviceStore(ctx context.Context, cfg config.StoreConfig, index DeviceIndex, log zerolog.Logger) (*DeviceStore, error) {
	s := &DeviceStore{
		driver:     cfg.Driver,
		dsn:        cfg.DSN,
		dir:        cfg.Dir,
		index:      index,
		log:        log.With().Str("component", "device_store").Logger(),
		containers: make(map[string]*sqlstore.Container),
	}

	switch cfg.Driver {
	case "postgres", "pgx":
		c, err := sqlstore.New(ctx, "pgx", cfg.DSN, waLog.Zerolog(s.log))
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		s.shared = c
	default:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credential dir: %w", err)
		}
	}
	return s, nil
}

// Device returns the agent's paired device, or a fresh unpaired one
func (s *DeviceStore) Device(ctx context.Context, agentID string) (*store.Device, error) {
	c, err := s.container(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if s.shared == nil {
		return c.GetFirstDevice(ctx)
	}

	jid, err := s.indexedDevice(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if jid.IsEmpty() {
		return c.NewDevice(), nil
	}
	dev, err := c.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", jid, err)
	}
	if dev == nil {
		return c.NewDevice(), nil
	}
	return dev, nil
}

// Clear wipes the agent's pairing so the next session starts unpaired
func (s *DeviceStore) Clear(ctx context.Context, agentID string) error {
	c, err := s.container(ctx, agentID)
	if err != nil {
		return err
	}

	var devices []*store.Device
	if s.shared == nil {
		devices, err = c.GetAllDevices(ctx)
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
	} else {
		jid, err := s.indexedDevice(ctx, agentID)
		if err != nil || jid.IsEmpty() {
			return err
		}
		dev, err := c.GetDevice(ctx, jid)
		if err != nil {
			return fmt.Errorf("load device %s: %w", jid, err)
		}
		if dev != nil {
			devices = append(devices, dev)
		}
	}

	for _, dev := range devices {
		if err := c.DeleteDevice(ctx, dev); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
	}
	s.log.Info().Str("agent_id", agentID).Int("devices", len(devices)).Msg("credentials cleared")
	return nil
}

// Close releases every open database
func (s *DeviceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	if s.shared != nil {
		first = s.shared.Close()
	}
	for id, c := range s.containers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.containers, id)
	}
	return first
}

func (s *DeviceStore) container(ctx context.Context, agentID string) (*sqlstore.Container, error) {
	if s.shared != nil {
		return s.shared, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[agentID]; ok {
		return c, nil
	}

	path := filepath.Join(s.dir, fmt.Sprintf("agent_%s.db", agentID))
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	c, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Zerolog(s.log.With().Str("agent_id", agentID).Logger()))
	if err != nil {
		return nil, fmt.Errorf("open credential store for %s: %w", agentID, err)
	}
	s.containers[agentID] = c
	return c, nil
}

func (s *DeviceStore) indexedDevice(ctx context.Context, agentID string) (types.JID, error) {
	id, err := s.index.DeviceID(ctx, agentID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("device of %s: %w", agentID, err)
	}
	if id == "" {
		return types.EmptyJID, nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("device of %s: %w", agentID, err)
	}
	return jid, nil
}

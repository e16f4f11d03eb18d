package manager

import (
	"context"
	"sync"
	"time"

	"github.com/hireloop/wabridge/internal/bus"
	"github.com/hireloop/wabridge/internal/crm"
	"github.com/hireloop/wabridge/internal/errs"
	"github.com/hireloop/wabridge/internal/ingest"
	"github.com/hireloop/wabridge/internal/state"
	"github.com/hireloop/wabridge/internal/store"
	"go.uber.org/zap"
)

// Config bounds the reconnect policy and the per-instance event queue.
type Config struct {
	MaxReconnectAttempts int
	RetryDelay           time.Duration
	QueueSize            int
}

// Status is the point-in-time answer to "is this user online".
type Status struct {
	Connected    bool        `json:"connected"`
	State        state.State `json:"state"`
	PairingCode  string      `json:"pairing_code,omitempty"`
	PairingImage string      `json:"pairing_image,omitempty"`
	PhoneNumber  string      `json:"phone_number,omitempty"`
}

// QR is the pairing artifact published on the bus and returned from status.
type QR struct {
	Code  string `json:"code"`
	Image string `json:"image"`
}

// SendResult identifies an accepted outbound message.
type SendResult struct {
	MsgID     string    `json:"msg_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager owns one Instance per CRM user and routes every command to the
// right one. All methods are safe for concurrent use.
type Manager struct {
	db       *store.DB
	engine   *ingest.Engine
	bus      *bus.Bus
	notifier crm.Notifier
	factory  ConnectorFactory
	sched    Scheduler
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	instances map[string]*Instance
}

func New(db *store.DB, engine *ingest.Engine, b *bus.Bus, notifier crm.Notifier, factory ConnectorFactory, sched Scheduler, cfg Config, logger *zap.Logger) *Manager {
	if sched == nil {
		sched = TimerScheduler{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Manager{
		db:        db,
		engine:    engine,
		bus:       b,
		notifier:  notifier,
		factory:   factory,
		sched:     sched,
		cfg:       cfg,
		logger:    logger,
		instances: make(map[string]*Instance),
	}
}

// Initialize starts (or re-starts) the given user's session. Safe to call
// repeatedly and concurrently for the same user.
func (m *Manager) Initialize(ctx context.Context, userID string) error {
	return m.getOrCreate(userID).Initialize(ctx)
}

// Status reports the user's runtime state. A user with no instance is
// simply disconnected.
func (m *Manager) Status(userID string) Status {
	m.mu.Lock()
	inst := m.instances[userID]
	m.mu.Unlock()
	if inst == nil {
		return Status{State: state.Disconnected}
	}
	return inst.Status()
}

// Logout invalidates the user's credentials, deactivates the session and
// removes the instance. A later Initialize starts a fresh pairing cycle.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	m.mu.Lock()
	inst := m.instances[userID]
	delete(m.instances, userID)
	m.mu.Unlock()
	if inst == nil {
		return errs.ErrNoSession
	}
	inst.stop(true)
	m.logger.Info("logged out", zap.String("user_id", userID))
	return nil
}

// SendText delivers a text message for the given user.
func (m *Manager) SendText(ctx context.Context, userID, to, text string) (*SendResult, error) {
	inst, err := m.instance(userID)
	if err != nil {
		return nil, err
	}
	return inst.SendText(ctx, to, text)
}

// SendFile delivers a local file as a document for the given user.
func (m *Manager) SendFile(ctx context.Context, userID, to, localPath, caption, mimeType string) (*SendResult, error) {
	inst, err := m.instance(userID)
	if err != nil {
		return nil, err
	}
	return inst.SendFile(ctx, to, localPath, caption, mimeType)
}

// AvatarURL resolves a conversation's avatar for the given user.
func (m *Manager) AvatarURL(ctx context.Context, userID, remoteID string) (string, error) {
	inst, err := m.instance(userID)
	if err != nil {
		return "", err
	}
	return inst.AvatarURL(ctx, remoteID)
}

// Shutdown disconnects every instance without logging anyone out.
// Credentials survive for the next process start.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.instances = make(map[string]*Instance)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(in *Instance) {
			defer wg.Done()
			in.stop(false)
		}(inst)
	}
	wg.Wait()
}

func (m *Manager) instance(userID string) (*Instance, error) {
	m.mu.Lock()
	inst := m.instances[userID]
	m.mu.Unlock()
	if inst == nil {
		return nil, errs.ErrNoSession
	}
	return inst, nil
}

func (m *Manager) getOrCreate(userID string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[userID]; ok {
		return inst
	}
	inst := &Instance{
		userID:    userID,
		mgr:       m,
		machine:   state.NewMachine(userID, m.bus),
		logger:    m.logger.With(zap.String("user_id", userID)),
		queue:     make(chan ingest.Event, m.cfg.QueueSize),
		done:      make(chan struct{}),
		seenChats: make(map[string]struct{}),
	}
	inst.loopCtx, inst.loopCancel = context.WithCancel(context.Background())
	go inst.run()
	m.instances[userID] = inst
	return inst
}

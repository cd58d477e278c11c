// Package vault seals per-customer device credentials at rest. Secrets are
// AES-256-GCM encrypted under a random data key, which is in turn wrapped
// by a key derived from the operator passphrase with Argon2id.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin            = (*Module)(nil)
	_ plugin.HTTPProvider      = (*Module)(nil)
	_ plugin.HealthChecker     = (*Module)(nil)
	_ roles.CredentialProvider = (*Module)(nil)
)

// Module implements the Vault credential plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	store  *VaultStore
	km     *KeyManager
}

// New creates a new Vault plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "vault",
		Version:     "0.1.0",
		Description: "Sealed storage for device credentials",
		Roles:       []string{roles.RoleCredentialStore},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init migrates the vault tables and, when a passphrase is configured,
// creates or unseals the master record. Without a passphrase the vault
// stays sealed and credential writes fail with ErrSealed.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if err := deps.Store.Migrate(ctx, "vault", migrations()); err != nil {
		return fmt.Errorf("vault migrations: %w", err)
	}
	m.store = NewVaultStore(deps.Store.DB())
	m.km = NewKeyManager()

	salt, check, err := m.store.GetMaster(ctx)
	if err != nil {
		return err
	}
	if salt != nil {
		m.km.Load(salt, check)
	}

	var passphrase string
	if deps.Config != nil {
		passphrase = deps.Config.GetString("passphrase")
	}
	if passphrase == "" {
		m.logger.Warn("vault passphrase not configured, stored device credentials are unavailable")
		return nil
	}

	if !m.km.HasMaster() {
		salt, check, err := m.km.Setup(passphrase)
		if err != nil {
			return fmt.Errorf("vault setup: %w", err)
		}
		if err := m.store.InsertMaster(ctx, salt, check); err != nil {
			return err
		}
		m.logger.Info("vault master record created")
		return nil
	}
	if err := m.km.Unseal(passphrase); err != nil {
		return fmt.Errorf("unseal vault: %w", err)
	}
	m.logger.Info("vault unsealed")
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.publish(ctx, TopicVaultStatusChanged, StatusEvent{Sealed: m.km.IsSealed()})
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.km != nil {
		m.km.Seal()
	}
	return nil
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
	}
}

// Health implements plugin.HealthChecker. A sealed vault is degraded, not
// unhealthy: scans still run with explicit credentials.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.km == nil || m.km.IsSealed() {
		return plugin.HealthStatus{Status: "degraded", Message: "vault is sealed"}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Sealed reports whether credentials can currently be read or written.
func (m *Module) Sealed() bool {
	return m.km == nil || m.km.IsSealed()
}

// PutCredentials seals c for owner, replacing any previous value.
func (m *Module) PutCredentials(ctx context.Context, owner string, c models.Credentials) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	wrapped, ciphertext, err := m.km.Encrypt(owner, plain)
	wipe(plain)
	if err != nil {
		return err
	}
	if err := m.store.PutSecret(ctx, owner, wrapped, ciphertext); err != nil {
		return err
	}
	m.publish(ctx, TopicSecretStored, SecretEvent{OwnerID: owner})
	return nil
}

// Credentials returns owner's credentials. ok is false when none are stored.
func (m *Module) Credentials(ctx context.Context, owner string) (c models.Credentials, ok bool, err error) {
	sec, err := m.store.GetSecret(ctx, owner)
	if err != nil || sec == nil {
		return models.Credentials{}, false, err
	}
	plain, err := m.km.Decrypt(owner, sec.WrappedKey, sec.Ciphertext)
	if err != nil {
		return models.Credentials{}, false, fmt.Errorf("credentials for %s: %w", owner, err)
	}
	defer wipe(plain)
	if err := json.Unmarshal(plain, &c); err != nil {
		return models.Credentials{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	return c, true, nil
}

// HasCredentials reports whether a secret is stored for owner. It works
// while sealed.
func (m *Module) HasCredentials(ctx context.Context, owner string) (bool, error) {
	sec, err := m.store.GetSecret(ctx, owner)
	return sec != nil, err
}

// DeleteCredentials removes owner's credentials.
func (m *Module) DeleteCredentials(ctx context.Context, owner string) error {
	if err := m.store.DeleteSecret(ctx, owner); err != nil {
		return err
	}
	m.publish(ctx, TopicSecretDeleted, SecretEvent{OwnerID: owner})
	return nil
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "vault",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

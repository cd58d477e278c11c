// Package roles defines typed contracts for plugin roles.
// Plugins that fill a role (declared via PluginInfo.Roles) implement the
// matching interface so callers can use PluginResolver.ResolveByRole
// followed by a type assertion.
package roles

import (
	"context"

	"github.com/HerbHall/relayscan/pkg/models"
)

// Role name constants match the strings used in PluginInfo.Roles.
const (
	RoleDiscovery       = "discovery"
	RoleCredentialStore = "credential_store" //nolint:gosec // G101: role name, not a credential
	RoleDeviceControl   = "device_control"
	RoleNotification    = "notification"
)

// CredentialSource supplies the stored device credentials of an owner,
// normally a customer ID. ok is false when nothing is stored.
type CredentialSource interface {
	Credentials(ctx context.Context, owner string) (creds models.Credentials, ok bool, err error)
}

// CredentialProvider is a CredentialSource that can also change what is
// stored. Filled by the credential_store role.
type CredentialProvider interface {
	CredentialSource
	PutCredentials(ctx context.Context, owner string, c models.Credentials) error
	HasCredentials(ctx context.Context, owner string) (bool, error)
	DeleteCredentials(ctx context.Context, owner string) error
}

// DeviceDirectory looks up known devices and their owners' credentials.
// Filled by the discovery role.
type DeviceDirectory interface {
	Device(ctx context.Context, id string) (*models.Device, error)
	DeviceAt(ctx context.Context, ip string) (*models.Device, error)
	CustomerCredentials(ctx context.Context, customerID string) models.Credentials
}

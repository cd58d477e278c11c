package vault

// Event topics published by the Vault module.
const (
	TopicVaultStatusChanged = "vault.status.changed"
	TopicSecretStored       = "vault.secret.stored"
	TopicSecretDeleted      = "vault.secret.deleted"
)

// StatusEvent is the payload for TopicVaultStatusChanged.
type StatusEvent struct {
	Sealed bool `json:"sealed"`
}

// SecretEvent is the payload for secret topics. It never carries the secret.
type SecretEvent struct {
	OwnerID string `json:"owner_id"`
}

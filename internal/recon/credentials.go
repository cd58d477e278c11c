package recon

import "github.com/HerbHall/relayscan/pkg/roles"

// CredentialSource supplies the stored device credentials of a customer.
type CredentialSource = roles.CredentialSource

// CredentialStore is a CredentialSource that can also change what is
// stored. The vault module implements it, keyed by customer ID.
type CredentialStore = roles.CredentialProvider

package probe

import (
	"strings"

	"github.com/HerbHall/relayscan/pkg/models"
)

// RecognitionPolicy decides whether an online probe result is a supported
// device. Results it rejects are left out of a scan entirely.
type RecognitionPolicy func(models.Attributes) bool

// RequireFirmwareVersion accepts results that report a firmware version.
// Other HTTP services answering on the same port do not, but neither do
// some supported devices in unusual configurations.
func RequireFirmwareVersion(a models.Attributes) bool {
	return strings.TrimSpace(a.FirmwareVersion) != ""
}

// AcceptAll accepts every online result.
func AcceptAll(models.Attributes) bool { return true }

package swagger

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"
)

func TestDocRendersValidJSON(t *testing.T) {
	raw, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		t.Fatalf("ReadDoc() error = %v", err)
	}
	var doc struct {
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("rendered doc is not JSON: %v", err)
	}
	if doc.BasePath != "/api/v1" {
		t.Errorf("basePath = %q, want /api/v1", doc.BasePath)
	}
	for _, p := range []string{"/recon/scan", "/control/devices/wifi", "/vault/status", "/ws/events"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("paths missing %s", p)
		}
	}
}

package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/HerbHall/relayscan/internal/server"
	"gopkg.in/yaml.v3"
)

// secretKeys are config leaf names whose values are never printed.
var secretKeys = []string{"passphrase", "secret", "password", "pass"}

// runConfig prints the effective configuration (file, environment and
// defaults merged) as YAML with secrets masked.
func runConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "# from %s\n", used)
	}
	if err := writeConfig(os.Stdout, v.AllSettings()); err != nil {
		fmt.Fprintf(os.Stderr, "print configuration: %v\n", err)
		return 1
	}
	return 0
}

func writeConfig(w io.Writer, settings map[string]any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redactSettings(settings)); err != nil {
		return err
	}
	return enc.Close()
}

// redactSettings returns a copy of settings with secret values masked and
// userinfo stripped from url values.
func redactSettings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, val := range settings {
		switch x := val.(type) {
		case map[string]any:
			out[k] = redactSettings(x)
		case string:
			out[k] = redactValue(k, x)
		default:
			out[k] = val
		}
	}
	return out
}

func redactValue(key, val string) string {
	if val == "" {
		return val
	}
	lk := strings.ToLower(key)
	for _, s := range secretKeys {
		if lk == s || strings.HasSuffix(lk, "_"+s) {
			return "********"
		}
	}
	if lk == "url" || strings.HasSuffix(lk, "_url") {
		if u, err := url.Parse(val); err == nil && u.User != nil {
			return u.Redacted()
		}
	}
	return val
}

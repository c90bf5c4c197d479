package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseSnapshot builds a snapshot from the raw YAML app and instance tables.
func ParseSnapshot(appTable, instanceTable []byte) (*Snapshot, error) {
	snap := &Snapshot{
		Apps:      map[string]AppEntry{},
		Instances: map[string]InstanceEntry{},
	}
	if err := yaml.Unmarshal(appTable, &snap.Apps); err != nil {
		return nil, fmt.Errorf("failed to parse app table: %w", err)
	}
	if err := yaml.Unmarshal(instanceTable, &snap.Instances); err != nil {
		return nil, fmt.Errorf("failed to parse instance table: %w", err)
	}
	return snap, nil
}

// LoadSnapshot reads both tables from disk. Used at startup and on reload;
// a failed load leaves the currently installed snapshot untouched.
func LoadSnapshot(appPath, instancePath string) (*Snapshot, error) {
	appTable, err := os.ReadFile(appPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read app table: %w", err)
	}
	instanceTable, err := os.ReadFile(instancePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance table: %w", err)
	}
	return ParseSnapshot(appTable, instanceTable)
}

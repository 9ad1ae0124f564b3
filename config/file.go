package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// applyFile overlays the YAML file at path. Keys missing from the file keep
// their current values; unknown keys are an error.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil {
		// An empty file decodes to io.EOF and changes nothing.
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

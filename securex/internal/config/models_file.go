package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelOptionsFile is the document read by LoadModelOptions:
//
//	models:
//	  users:
//	    except: [notes]
//	    storage_type: binary
//	    crypto_provider: primary
type ModelOptionsFile struct {
	Models map[string]Options `yaml:"models"`
}

// LoadModelOptions reads per table option sets from a YAML file. The options are not
// validated here; they go through Resolve when a model is configured with them.
func LoadModelOptions(path string) (map[string]Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	return ParseModelOptions(data)
}

// ParseModelOptions decodes a models document
func ParseModelOptions(data []byte) (map[string]Options, error) {
	var doc ModelOptionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	if doc.Models == nil {
		return map[string]Options{}, nil
	}
	for table, opts := range doc.Models {
		if opts == nil {
			doc.Models[table] = Options{}
		}
	}
	return doc.Models, nil
}

package codec

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// yamlCodec implements Codec for YAML.
type yamlCodec struct{}

// YAML returns a YAML codec.
func YAML() Codec {
	return &yamlCodec{}
}

// ContentType returns the MIME type for YAML.
func (c *yamlCodec) ContentType() string {
	return "application/yaml"
}

// Marshal encodes v as YAML.
func (c *yamlCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal decodes YAML data into v. Empty documents are rejected so that truncated
// payloads do not silently decode to a zero value.
func (c *yamlCodec) Unmarshal(data []byte, v any) error {
	return yaml.NewDecoder(bytes.NewReader(data)).Decode(v)
}

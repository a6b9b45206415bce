// Package codec converts column values to a canonical byte form before encryption and back
// after decryption.
package codec

import (
	"fmt"
	"strings"

	"go-securex/securex/errors"
)

// Codec provides content-type aware marshaling of column values.
type Codec interface {
	// ContentType returns the MIME type for this codec (e.g., "application/yaml").
	ContentType() string

	// Marshal encodes v into bytes. A nil v encodes the codec's null.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into the value pointed to by v.
	Unmarshal(data []byte, v any) error
}

// Default returns the codec used when none is configured
func Default() Codec {
	return YAML()
}

// ByName returns the codec registered under name
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "yaml", "yml":
		return YAML(), nil
	case "msgpack", "messagepack":
		return MsgPack(), nil
	case "json":
		return JSON(), nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig, fmt.Sprintf("unknown codec %q", name), nil)
	}
}

// Serialize encodes v, wrapping failures as encode errors
func Serialize(c Codec, v any) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, errors.NewEncodeError(err)
	}
	return data, nil
}

// Deserialize decodes data into v, wrapping failures as decode errors
func Deserialize(c Codec, data []byte, v any) error {
	if err := c.Unmarshal(data, v); err != nil {
		return errors.NewDecodeError(err)
	}
	return nil
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-securex/securex/errors"
)

type address struct {
	Street string
	Number int
	Tags   []string
}

func allCodecs() map[string]Codec {
	return map[string]Codec{
		"yaml":    YAML(),
		"msgpack": MsgPack(),
		"json":    JSON(),
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			data, err := Serialize(c, "alice@example.com")
			require.NoError(t, err)
			var s *string
			require.NoError(t, Deserialize(c, data, &s))
			require.NotNil(t, s)
			assert.Equal(t, "alice@example.com", *s)

			data, err = Serialize(c, 4111)
			require.NoError(t, err)
			var n *int
			require.NoError(t, Deserialize(c, data, &n))
			require.NotNil(t, n)
			assert.Equal(t, 4111, *n)

			in := address{Street: "Main", Number: 7, Tags: []string{"home"}}
			data, err = Serialize(c, in)
			require.NoError(t, err)
			var out *address
			require.NoError(t, Deserialize(c, data, &out))
			require.NotNil(t, out)
			assert.Equal(t, in, *out)

			data, err = Serialize(c, []byte{0, 1, 254})
			require.NoError(t, err)
			var b *[]byte
			require.NoError(t, Deserialize(c, data, &b))
			require.NotNil(t, b)
			assert.Equal(t, []byte{0, 1, 254}, *b)
		})
	}
}

func TestCodecs_Null(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			data, err := Serialize(c, nil)
			require.NoError(t, err)
			assert.NotEmpty(t, data, "null has an explicit encoding")

			var s *string
			require.NoError(t, Deserialize(c, data, &s))
			assert.Nil(t, s)
		})
	}
}

func TestCodecs_DecodeError(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		data  []byte
	}{
		{name: "yaml_empty", codec: YAML(), data: []byte{}},
		{name: "yaml_type_mismatch", codec: YAML(), data: []byte("[1, 2]")},
		{name: "json_garbage", codec: JSON(), data: []byte("{not json")},
		{name: "msgpack_garbage", codec: MsgPack(), data: []byte{0xc1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n *int
			err := Deserialize(tt.codec, tt.data, &n)
			require.Error(t, err)
			assert.True(t, errors.IsDecodeError(err))
		})
	}
}

func TestSerialize_EncodeError(t *testing.T) {
	_, err := Serialize(JSON(), make(chan int))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEncode, errors.GetErrorCode(err))
}

func TestByName(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantErr     bool
	}{
		{name: "", contentType: "application/yaml"},
		{name: "YAML", contentType: "application/yaml"},
		{name: "msgpack", contentType: "application/msgpack"},
		{name: "json", contentType: "application/json"},
		{name: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ByName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.contentType, c.ContentType())
		})
	}

	assert.Equal(t, "application/yaml", Default().ContentType())
}

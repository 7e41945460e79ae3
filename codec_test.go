package apubsub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{"": "json", "json": "json", "msgpack": "msgpack"} {
		c, err := apubsub.CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, c.Name())
	}
	_, err := apubsub.CodecByName("xml")
	assert.ErrorIs(t, err, apubsub.ErrInvalidValue)
}

func TestEncodeContents(t *testing.T) {
	type payload struct {
		Text string `json:"text" msgpack:"text"`
	}

	t.Run("raw bypasses the codec", func(t *testing.T) {
		data, err := apubsub.EncodeContents(apubsub.JSONCodec{}, apubsub.Raw("not json"))
		require.NoError(t, err)
		assert.Equal(t, []byte("not json"), data)
	})

	t.Run("encode errors are wrapped", func(t *testing.T) {
		_, err := apubsub.EncodeContents(apubsub.JSONCodec{}, make(chan int))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "json")
	})

	for _, c := range []apubsub.Codec{apubsub.JSONCodec{}, apubsub.MsgpackCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := apubsub.EncodeContents(c, payload{Text: "hi"})
			require.NoError(t, err)
			m := apubsub.NewMessage(nil, c, apubsub.MessageData{Contents: data})
			var got payload
			require.NoError(t, m.Unmarshal(&got))
			assert.Equal(t, "hi", got.Text)
		})
	}
}

package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tk := New(KindUpload, WithLocalFile("/tmp/video.mp4", 42))

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, KindUpload, tk.Kind)
	assert.Equal(t, StatusPending, tk.Status)
	assert.False(t, tk.Result)
	assert.Equal(t, "/tmp/video.mp4", tk.LocalPath)
	assert.Equal(t, int64(42), tk.FileSize)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.NoError(t, tk.Validate())

	other := New(KindUpload)
	assert.NotEqual(t, tk.ID, other.ID, "generated ids must be unique")
}

func TestWithID(t *testing.T) {
	t.Parallel()

	tk := New(KindGeneric, WithID("t0"))
	assert.Equal(t, "t0", tk.ID)

	tk.ID = ""
	assert.ErrorIs(t, tk.Validate(), ErrEmptyID)
}

func TestPayloadAndOutput(t *testing.T) {
	t.Parallel()

	tk := New(KindGeneric, WithPayload(21))

	var in int
	require.NoError(t, tk.DecodePayload(&in))
	assert.Equal(t, 21, in)

	require.NoError(t, tk.SetOutput(in*2))
	var out int
	require.NoError(t, tk.DecodeOutput(&out))
	assert.Equal(t, 42, out)

	empty := New(KindGeneric)
	assert.ErrorIs(t, empty.DecodePayload(&in), ErrEmptyPayload)
	assert.Error(t, empty.DecodeOutput(&out))
}

func TestSucceedAndFail(t *testing.T) {
	t.Parallel()

	tk := New(KindGeneric)
	assert.False(t, tk.Done())

	tk.Succeed()
	assert.True(t, tk.Result)
	assert.Equal(t, StatusCompleted, tk.Status)
	assert.True(t, tk.Done())

	tk.Fail(Localized(MsgNoSpace))
	assert.False(t, tk.Result)
	assert.Equal(t, StatusFailed, tk.Status)
	assert.Contains(t, tk.Message.Text("ru"), "нет места")
}

func TestClone(t *testing.T) {
	t.Parallel()

	tk := New(KindGeneric, WithPayload(map[string]int{"a": 1}))
	tk.Message = Localized(MsgTimeout)

	c := tk.Clone()
	require.Equal(t, tk, c)

	c.Payload[0] = 'x'
	c.Message["en"] = "changed"
	assert.NotEqual(t, tk.Payload[0], c.Payload[0])
	assert.NotEqual(t, "changed", tk.Message["en"])
}

func TestJSONRoundTripKeepsIdentity(t *testing.T) {
	t.Parallel()

	tk := New(KindTranscription, WithID("abc"), WithSource("/data/a.mp3"))
	tk.Fail(Localized(MsgFileNotFound))

	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc", decoded.ID)
	assert.Equal(t, StatusFailed, decoded.Status)
	assert.Equal(t, tk.Message, decoded.Message)
	assert.True(t, tk.CreatedAt.Equal(decoded.CreatedAt))
}

func TestMessageText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		lang string
		want string
	}{
		{"exact language", Message{"en": "hello", "ru": "привет"}, "ru", "привет"},
		{"falls back to default", Message{"en": "hello"}, "de", "hello"},
		{"falls back to any", Message{"ru": "привет"}, "de", "привет"},
		{"empty", nil, "en", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Text(tt.lang))
		})
	}
}

func TestLocalizedUnknownKey(t *testing.T) {
	t.Parallel()

	msg := Localized("something_else")
	assert.Equal(t, "something_else", msg.Text("en"))

	known := Localized(MsgUnsupportedFormat)
	assert.ElementsMatch(t, []string{"en", "ru"}, known.Languages())
}

package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "uploads/job-1/source", SourceKey("job-1"))
	assert.Equal(t, "outputs/job-1/a.png", OutputKey("", "job-1", "a.png"))
	assert.Equal(t, "results/job-1/a.png", OutputKey("/results/", "job-1", "a.png"))
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing endpoint", cfg: Config{Bucket: "b"}},
		{name: "missing bucket", cfg: Config{Endpoint: "localhost:9000"}},
		{name: "negative limit", cfg: Config{Endpoint: "localhost:9000", Bucket: "b", MaxObjectBytes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			require.Error(t, err)
		})
	}

	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "k", Secret: "s", Bucket: "pixelfx", MaxObjectBytes: 10 << 20})
	require.NoError(t, err)
	assert.Equal(t, "pixelfx", c.Bucket())
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = readLimited(strings.NewReader("123456"), 5)
	require.ErrorIs(t, err, ErrObjectTooLarge)

	data, err = readLimited(strings.NewReader("123456"), 0)
	require.NoError(t, err)
	assert.Len(t, data, 6)
}

func TestAttachment(t *testing.T) {
	assert.Equal(t, "attachment; filename=ai-enhanced-enhance-1.png", attachment("ai-enhanced-enhance-1.png"))
	assert.Equal(t, `attachment; filename="my shot.png"`, attachment("my shot.png"))
}

package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"1024", 1024},
		{"0", 0},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"256Mi", 256 * MiB},
		{"2Gi", 2 * GiB},
		{"1Ti", TiB},
		{"100MB", 100 * MB},
		{"2GB", 2 * GB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{" 512 Mi ", 512 * MiB},
		{"64b", 64},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "  ", "Gi", "12Xi", "abc", "--3Mi"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("128Mi")))
	assert.Equal(t, 128*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("nope")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.00KiB", KiB.String())
	assert.Equal(t, "256.00MiB", (256 * MiB).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}

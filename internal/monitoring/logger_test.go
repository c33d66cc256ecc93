package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("[runner] %s period %d ms", "extra1", 100)
	assert.Equal(t, []string{"[runner] extra1 period 100 ms"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %d", 1) })
	assert.Len(t, got, 1, "nil logger must not reach the previous one")
}

func TestLogfDefault(t *testing.T) {
	assert.NotNil(t, Logf)
}

package cerrors

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"setup with target", Setup{Component: "disk", Target: "disk-1", Reason: "no space"}, "[disk] setup failed for 'disk-1': no space"},
		{"setup without target", Setup{Component: "fault", Reason: "mkdir"}, "[fault] setup failed: mkdir"},
		{"runtime", Runtime{Component: "cpu", Target: "cpu-1", Reason: "panic"}, "[cpu] runtime failure in 'cpu-1': panic"},
		{"configuration", Configuration{Field: "intensity", Reason: "must be 1-10"}, "invalid configuration 'intensity': must be 1-10"},
		{"configuration no field", Configuration{Reason: "empty"}, "invalid configuration: empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestTypeOfThroughWrapping(t *testing.T) {
	base := Setup{Component: "disk", Reason: "mkdir failed"}

	assert.Equal(t, ErrorTypeSetup, TypeOf(base))
	assert.Equal(t, ErrorTypeSetup, TypeOf(pkgerrors.Wrap(base, "start")))
	assert.True(t, IsSetup(pkgerrors.Wrapf(base, "worker %s", "disk-1")))

	cfg := Configuration{Field: "probability", Reason: "out of range"}
	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsConfiguration(base))

	assert.Equal(t, ErrorTypeRuntime, TypeOf(errors.New("plain")))
	assert.False(t, IsSetup(nil))
	assert.False(t, IsConfiguration(nil))
}

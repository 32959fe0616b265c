package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sig  Signals
		want Class
	}{
		{"desktop chrome", Signals{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/120", ViewportWidth: 1440}, Desktop},
		{"iphone", Signals{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", ViewportWidth: 1440}, Mobile},
		{"android lower case", Signals{UserAgent: "mozilla/5.0 (linux; android 14)", ViewportWidth: 0}, Mobile},
		{"narrow viewport", Signals{UserAgent: "Mozilla/5.0 (X11; Linux x86_64)", ViewportWidth: 768}, Mobile},
		{"just above threshold", Signals{ViewportWidth: 769}, Desktop},
		{"no signals", Signals{}, Desktop},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Resolve(tt.sig).Class)
		})
	}
}

func TestMobileBias(t *testing.T) {
	t.Parallel()

	d := Resolve(Signals{ViewportWidth: 1920})
	m := Resolve(Signals{ViewportWidth: 375})

	assert.Greater(t, m.Sample.PixelSize, d.Sample.PixelSize)
	assert.Less(t, m.Sample.PixelDensity, d.Sample.PixelDensity)
	assert.Greater(t, m.Sample.Intensity, d.Sample.Intensity)
	assert.Equal(t, 5000, m.MaxSamples)
	assert.Equal(t, 8000, d.MaxSamples)
}

func TestResolveIsPure(t *testing.T) {
	t.Parallel()
	sig := Signals{UserAgent: "iPad", ViewportWidth: 1024}
	assert.Equal(t, Resolve(sig), Resolve(sig))
}

package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatMinutes(t *testing.T) {
	cases := map[int]string{
		-3:  "0min",
		0:   "0min",
		1:   "1min",
		59:  "59min",
		60:  "1h",
		65:  "1h 5min",
		119: "1h 59min",
		120: "2h",
		601: "10h 1min",
	}
	for minutes, expected := range cases {
		assert.Equal(t, expected, FormatMinutes(minutes), "minutes=%d", minutes)
	}
}

func TestFormatFloors(t *testing.T) {
	assert.Equal(t, "0min", Format(59*time.Second))
	assert.Equal(t, "1h 1min", Format(61*time.Minute+59*time.Second))
}

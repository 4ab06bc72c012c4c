package presentation

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOverlay(t *testing.T) {
	o := NewOverlay("Break in progress")
	assert.False(t, o.State().Visible)

	o.SetVisible(3 * time.Second)
	o.SetCountdownText("00:03")
	st := o.State()
	assert.True(t, st.Visible)
	assert.Equal(t, int64(3000), st.RequestedMs)
	assert.Equal(t, "00:03", st.Text)
	assert.Equal(t, "Break in progress", st.Message)

	o.SetMessage("Stretch")
	o.Close()
	st = o.State()
	assert.False(t, st.Visible)
	assert.Equal(t, 1, st.Closes)
	assert.Equal(t, "Stretch", st.Message)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.SetVisible(90 * time.Second)
	c.SetCountdownText("01:30")
	c.Close()

	assert.Equal(t, "lock: showing for 1m30s\nlock: 01:30\nlock: closed\n", buf.String())
}

func TestMulti(t *testing.T) {
	a, b := NewOverlay(""), NewOverlay("")
	var buf bytes.Buffer
	m := Multi{a, b, NewConsole(&buf)}

	m.SetVisible(time.Minute)
	m.SetCountdownText("01:00")
	m.Close()

	for _, o := range []*Overlay{a, b} {
		st := o.State()
		assert.Equal(t, "01:00", st.Text)
		assert.Equal(t, int64(60000), st.RequestedMs)
		assert.Equal(t, 1, st.Closes)
	}
	assert.Contains(t, buf.String(), "lock: closed")
}

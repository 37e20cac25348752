package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages. Text is only cleared
// once the send it started succeeds.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onChange func()
	inFlight string
	quiet    bool
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(string) {
		if c.onChange != nil && !c.quiet {
			c.onChange()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil || c.inFlight != "" {
			return
		}
		if text := c.GetText(); text != "" {
			c.inFlight = text
			c.onSend(text)
		}
	})

	return c
}

// SetOnSend sets the callback run when Enter is pressed on non-empty text.
// The callback must report back through Sent.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnChange sets the callback run on every edit.
func (c *Composer) SetOnChange(fn func()) {
	c.onChange = fn
}

// Sent finishes the in-flight send. On success the field is cleared unless
// the user kept typing; on failure the text stays for a retry.
func (c *Composer) Sent(ok bool) {
	text := c.inFlight
	c.inFlight = ""
	if ok && c.GetText() == text {
		c.quiet = true
		c.SetText("")
		c.quiet = false
	}
}

// Sending reports whether a send is in flight.
func (c *Composer) Sending() bool {
	return c.inFlight != ""
}

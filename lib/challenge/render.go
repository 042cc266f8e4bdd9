package challenge

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/steambap/captcha"
)

// Alphabet leaves out characters that are easy to confuse when distorted
// (0/O, 1/I/L).
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ErrRender is returned when a captcha image can't be produced.
var ErrRender = errors.New("challenge: can't render captcha")

// Renderer draws a fresh random answer of the given length and returns it
// along with an encoded image of it.
type Renderer interface {
	Render(length int) (answer string, image []byte, err error)
}

// ImageRenderer renders distorted PNG captchas.
type ImageRenderer struct {
	Width  int
	Height int
}

// DefaultRenderer draws 180x60 PNGs.
var DefaultRenderer Renderer = ImageRenderer{Width: 180, Height: 60}

func (ir ImageRenderer) Render(length int) (string, []byte, error) {
	data, err := captcha.New(ir.Width, ir.Height, func(o *captcha.Options) {
		o.CharPreset = Alphabet
		o.TextLength = length
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	var buf bytes.Buffer
	if err := data.WriteImage(&buf); err != nil {
		return "", nil, fmt.Errorf("%w: can't encode png: %w", ErrRender, err)
	}

	return data.Text, buf.Bytes(), nil
}

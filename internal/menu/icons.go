package menu

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/presence"
)

const iconSize = 16

var (
	colorFree     = color.RGBA{R: 50, G: 205, B: 50, A: 255}
	colorOccupied = color.RGBA{R: 255, A: 255}
	colorDegraded = color.RGBA{R: 218, G: 165, B: 32, A: 255}
)

var icons = sync.OnceValue(func() map[presence.State][]byte {
	return map[presence.State][]byte{
		presence.StateFree:     normalizedIcon(dotPNG(colorFree)),
		presence.StateOccupied: normalizedIcon(dotPNG(colorOccupied)),
		presence.StateDegraded: normalizedIcon(dotPNG(colorDegraded)),
	}
})

// statusIcon returns the tray icon for state. Unknown shares the degraded
// colour.
func statusIcon(state presence.State) []byte {
	icon, ok := icons()[state]
	if !ok {
		icon = icons()[presence.StateDegraded]
	}
	return cloneIcon(icon)
}

// dotPNG draws a filled circle with a black outline on a transparent square.
func dotPNG(fill color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	const (
		center = float64(iconSize) / 2
		radius = 6.0
	)
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx := float64(x) + 0.5 - center
			dy := float64(y) + 0.5 - center
			d2 := dx*dx + dy*dy
			switch {
			case d2 <= (radius-1)*(radius-1):
				img.SetRGBA(x, y, fill)
			case d2 <= radius*radius:
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		logging.Debugf("failed to encode tray icon: %v", err)
		return nil
	}
	return buf.Bytes()
}

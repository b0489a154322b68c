//go:build linux

package media

// Driver registration. V4L2 camera, ALSA/malgo microphone and X11 screen
// capture are linux-only; on other platforms GetUserMedia finds no drivers
// and Acquire fails with an AccessError.
import (
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// Package x11 connects the capture package to an X11 display server: RandR
// for output topology, MIT-SHM for zero-copy frames and XFixes for the
// hardware cursor.
package x11

import (
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"

	"github.com/breeze-rmm/streamhost/internal/capture"
)

// Dialer opens connections to the X display named by Display. An empty name
// uses $DISPLAY.
type Dialer struct {
	Display string
}

const allPlanes = 0xffffffff

// pixelPitch returns the bytes per pixel the server uses for images of the
// given depth.
func pixelPitch(formats []xproto.Format, depth byte) int {
	for _, f := range formats {
		if f.Depth == depth && f.BitsPerPixel >= 8 {
			return int(f.BitsPerPixel) / 8
		}
	}
	return 4
}

// rowPitch derives the padded row length of a GetImage reply.
func rowPitch(dataLen, height int) int {
	if height <= 0 {
		return 0
	}
	return dataLen / height
}

func cursorFromReply(r *xfixes.GetCursorImageReply) *capture.CursorImage {
	return &capture.CursorImage{
		X:      int(r.X),
		Y:      int(r.Y),
		Width:  int(r.Width),
		Height: int(r.Height),
		XHot:   int(r.Xhot),
		YHot:   int(r.Yhot),
		Pixels: r.CursorImage,
	}
}

// outputFromCrtc builds an Output for a connected RandR output. crtc is nil
// when the output drives no CRTC.
func outputFromCrtc(index int, name []byte, primary bool, crtc *randr.GetCrtcInfoReply) capture.Output {
	out := capture.Output{Index: index, Name: string(name), Primary: primary}
	if crtc != nil {
		out.X = int(crtc.X)
		out.Y = int(crtc.Y)
		out.Width = int(crtc.Width)
		out.Height = int(crtc.Height)
		out.Active = crtc.Width > 0 && crtc.Height > 0
	}
	return out
}

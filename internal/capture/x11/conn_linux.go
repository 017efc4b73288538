//go:build linux

package x11

import (
	"errors"
	"fmt"
	"image"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	xshm "github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"

	"github.com/breeze-rmm/streamhost/internal/capture"
	"github.com/breeze-rmm/streamhost/internal/logging"
)

var log = logging.L("x11")

// Dial connects and initializes the extensions the capture path uses. The
// returned connection implements capture.SharedMemoryConn only when the
// server supports MIT-SHM.
func (d Dialer) Dial() (capture.Conn, error) {
	x, err := xgb.NewConnDisplay(d.Display)
	if err != nil {
		return nil, fmt.Errorf("x11: connect %q: %w", d.Display, err)
	}

	setup := xproto.Setup(x)
	c := &conn{x: x, setup: setup, root: setup.DefaultScreen(x).Root}

	if err := randr.Init(x); err == nil {
		_, err = randr.QueryVersion(x, 1, 3).Reply()
		c.hasRandr = err == nil
	}
	if err := xfixes.Init(x); err == nil {
		_, err = xfixes.QueryVersion(x, 4, 0).Reply()
		c.hasXfixes = err == nil
	}
	if !c.hasRandr {
		log.Debug("RandR unavailable, treating the screen as one output")
	}

	if err := xshm.Init(x); err != nil {
		log.Debug("MIT-SHM unavailable", logging.KeyError, err)
		return c, nil
	}
	return &shmConn{conn: c}, nil
}

type conn struct {
	x         *xgb.Conn
	setup     *xproto.SetupInfo
	root      xproto.Window
	hasRandr  bool
	hasXfixes bool
}

func (c *conn) RootExtents() (int, int, error) {
	g, err := xproto.GetGeometry(c.x, xproto.Drawable(c.root)).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("x11: get root geometry: %w", err)
	}
	return int(g.Width), int(g.Height), nil
}

// Outputs lists connected RandR outputs in server order.
func (c *conn) Outputs() ([]capture.Output, error) {
	if !c.hasRandr {
		w, h, err := c.RootExtents()
		if err != nil {
			return nil, err
		}
		return []capture.Output{{Name: "default", Width: w, Height: h, Primary: true, Active: true}}, nil
	}

	res, err := randr.GetScreenResourcesCurrent(c.x, c.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("x11: get screen resources: %w", err)
	}

	var primary randr.Output
	if p, err := randr.GetOutputPrimary(c.x, c.root).Reply(); err == nil {
		primary = p.Output
	}

	var outputs []capture.Output
	for _, o := range res.Outputs {
		info, err := randr.GetOutputInfo(c.x, o, res.ConfigTimestamp).Reply()
		if err != nil {
			return nil, fmt.Errorf("x11: get output info: %w", err)
		}
		if info.Connection != randr.ConnectionConnected {
			continue
		}

		var crtc *randr.GetCrtcInfoReply
		if info.Crtc != 0 {
			crtc, err = randr.GetCrtcInfo(c.x, info.Crtc, res.ConfigTimestamp).Reply()
			if err != nil {
				return nil, fmt.Errorf("x11: get crtc info for %s: %w", info.Name, err)
			}
		}
		outputs = append(outputs, outputFromCrtc(len(outputs), info.Name, o == primary, crtc))
	}
	return outputs, nil
}

func (c *conn) GetImage(r image.Rectangle) (*capture.Image, error) {
	reply, err := xproto.GetImage(c.x, xproto.ImageFormatZPixmap, xproto.Drawable(c.root),
		int16(r.Min.X), int16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy()), allPlanes).Reply()
	if err != nil {
		return nil, fmt.Errorf("x11: get image: %w", err)
	}
	return &capture.Image{
		Width:      r.Dx(),
		Height:     r.Dy(),
		RowPitch:   rowPitch(len(reply.Data), r.Dy()),
		PixelPitch: pixelPitch(c.setup.PixmapFormats, reply.Depth),
		Data:       reply.Data,
	}, nil
}

func (c *conn) CursorImage() (*capture.CursorImage, error) {
	if !c.hasXfixes {
		return nil, errors.New("x11: XFixes extension not available")
	}
	reply, err := xfixes.GetCursorImage(c.x).Reply()
	if err != nil {
		return nil, fmt.Errorf("x11: get cursor image: %w", err)
	}
	return cursorFromReply(reply), nil
}

func (c *conn) Close() error {
	c.x.Close()
	return nil
}

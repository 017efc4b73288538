//go:build !linux

package x11

import "github.com/breeze-rmm/streamhost/internal/capture"

func (d Dialer) Dial() (capture.Conn, error) {
	return nil, capture.ErrNotSupported
}

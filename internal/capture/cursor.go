package capture

// CursorImage is the hardware cursor as reported by the display server.
// X/Y is the pointer position in virtual display coordinates; the image's
// top-left sits at (X-XHot, Y-YHot). Pixels are premultiplied ARGB, row-major.
type CursorImage struct {
	X      int
	Y      int
	Width  int
	Height int
	XHot   int
	YHot   int
	Pixels []uint32
}

// BlendCursor composites cursor onto frame in place. offsetX/offsetY is the
// top-left of the captured region in virtual display coordinates. Parts of
// the cursor outside the frame are clipped; nothing outside
// [0,Width)x[0,Height) is ever written.
func BlendCursor(frame *FrameBuffer, cursor *CursorImage, offsetX, offsetY int) {
	if cursor == nil || !frame.Valid() || frame.PixelPitch != 4 {
		return
	}
	if cursor.Width <= 0 || cursor.Height <= 0 || len(cursor.Pixels) < cursor.Width*cursor.Height {
		return
	}

	x := cursor.X - cursor.XHot - offsetX
	y := cursor.Y - cursor.YHot - offsetY

	// Crop the part hanging off the top/left edge.
	srcX, srcY := 0, 0
	if x < 0 {
		srcX, x = -x, 0
	}
	if y < 0 {
		srcY, y = -y, 0
	}

	width := min(cursor.Width-srcX, frame.Width-x)
	height := min(cursor.Height-srcY, frame.Height-y)
	if width <= 0 || height <= 0 {
		return
	}

	for row := 0; row < height; row++ {
		src := cursor.Pixels[(srcY+row)*cursor.Width+srcX:][:width]
		off := (y+row)*frame.RowPitch + x*4
		dst := frame.Data[off : off+width*4]
		for i, px := range src {
			blendPixel(dst[i*4:i*4+4:i*4+4], px)
		}
	}
}

// blendPixel applies source-over with the server's premultiplied colour:
// dst = src + (dst*(255-alpha) + 127) / 255 per colour channel, wrapping at
// 8 bits. An opaque source replaces the pixel including its alpha byte.
func blendPixel(dst []byte, px uint32) {
	alpha := px >> 24
	if alpha == 255 {
		dst[0] = byte(px)
		dst[1] = byte(px >> 8)
		dst[2] = byte(px >> 16)
		dst[3] = 255
		return
	}
	inv := 255 - alpha
	dst[0] = byte(px) + byte((uint32(dst[0])*inv+127)/255)
	dst[1] = byte(px>>8) + byte((uint32(dst[1])*inv+127)/255)
	dst[2] = byte(px>>16) + byte((uint32(dst[2])*inv+127)/255)
}

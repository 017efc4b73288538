package capture

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
)

var errInvalidFrame = errors.New("frame is not a valid 32-bit image")

// ToRGBA converts a 32-bit BGRX frame into an opaque RGBA image.
func ToRGBA(f *FrameBuffer) (*image.RGBA, error) {
	if !f.Valid() || f.PixelPitch != 4 {
		return nil, errInvalidFrame
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*f.RowPitch : y*f.RowPitch+f.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = 0xff
		}
	}
	return img, nil
}

// EncodePNG encodes a frame as PNG (lossless)
func EncodePNG(f *FrameBuffer) ([]byte, error) {
	img, err := ToRGBA(f)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes a frame as JPEG with the specified quality (1-100)
func EncodeJPEG(f *FrameBuffer, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	img, err := ToRGBA(f)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

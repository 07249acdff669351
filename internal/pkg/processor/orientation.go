package processor

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation is the EXIF orientation tag value.
type Orientation int

const (
	OrientationNormal         Orientation = 1
	OrientationFlipHorizontal Orientation = 2
	OrientationRotate180      Orientation = 3
	OrientationFlipVertical   Orientation = 4
	OrientationTranspose      Orientation = 5
	OrientationRotate90       Orientation = 6
	OrientationTransverse     Orientation = 7
	OrientationRotate270      Orientation = 8
)

// ReadOrientation extracts the orientation tag from image bytes.
// Missing or unreadable metadata yields OrientationNormal.
func ReadOrientation(data []byte) (o Orientation) {
	o = OrientationNormal
	// goexif can panic on truncated IFDs
	defer func() {
		if recover() != nil {
			o = OrientationNormal
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientationNormal
	}
	return Orientation(v)
}

// ApplyOrientation undoes the camera orientation. Rotations are clockwise as
// named by the tag. Tags other than 2, 3, 4, 6 and 8 leave img untouched and
// the same pointer is returned.
func ApplyOrientation(img *image.NRGBA, o Orientation) *image.NRGBA {
	switch o {
	case OrientationRotate90:
		return imaging.Rotate270(img)
	case OrientationRotate180:
		return imaging.Rotate180(img)
	case OrientationRotate270:
		return imaging.Rotate90(img)
	case OrientationFlipHorizontal:
		return imaging.FlipH(img)
	case OrientationFlipVertical:
		return imaging.FlipV(img)
	}
	return img
}

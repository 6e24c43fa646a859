package photo

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// EXIF orientation tag values that require rotation. The mirrored
// variants (2, 4, 5, 7) are rare in camera output and pass through
// unrotated, matching the source app.
const (
	orientationRotate90  = 6 // stored rotated 90° CCW, correct with 90° CW
	orientationRotate180 = 3
	orientationRotate270 = 8 // stored rotated 90° CW, correct with 90° CCW
)

// readOrientation extracts the EXIF orientation from the compressed
// source. Absent or unreadable metadata means no rotation, never an
// error.
func readOrientation(data []byte) int {
	meta, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return orientation
}

// correctOrientation applies the corrective rotation for an EXIF
// orientation value. imaging rotations are counter-clockwise.
func correctOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case orientationRotate90:
		return imaging.Rotate270(img)
	case orientationRotate180:
		return imaging.Rotate180(img)
	case orientationRotate270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

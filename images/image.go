// Package images - decoding, annotation and encoding of request images.
package images

// Image describes a decoded upload.
type Image struct {
	// The format detected from the upload's magic number.
	Format ImageFormat `json:"format" yaml:"format"`
	// The width of the decoded image.
	Width int `json:"width" yaml:"width"`
	// The height of the decoded image.
	Height int `json:"height" yaml:"height"`
	// The size of the upload in bytes.
	Size int `json:"size" yaml:"size"`
}

// Pixels returns the pixel count of the image.
func (i Image) Pixels() int {
	return i.Width * i.Height
}

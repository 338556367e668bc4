package pdfdoc

import (
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// FitzOpener implements Opener with MuPDF through go-fitz.
type FitzOpener struct{}

func (FitzOpener) Open(data []byte) (Doc, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return fitzDoc{doc}, nil
}

type fitzDoc struct{ *fitz.Document }

func (d fitzDoc) Image(page int, dpi float64) (image.Image, error) {
	img, err := d.Document.ImageDPI(page, dpi)
	if err != nil {
		return nil, err
	}
	return img, nil
}

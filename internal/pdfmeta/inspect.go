package pdfmeta

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrNotPDF = errors.New("not a PDF document")

func init() {
	// The portal never reads or writes a pdfcpu config dir.
	api.DisableConfigDir()
}

// Info is what the viewer shows about a document besides its bytes.
type Info struct {
	PageCount int
}

// Inspect parses data with relaxed validation and reports its page count.
func Inspect(data []byte) (info Info, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return Info{}, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inspect pdf: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return Info{}, fmt.Errorf("inspect pdf: %w", err)
	}
	return Info{PageCount: n}, nil
}

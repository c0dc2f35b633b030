package extract

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/hhrutter/tiff"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

func (x *Extractor) saveImages(ctx context.Context, rs io.ReadSeeker, dir string, log *zap.Logger) []string {
	doc, err := readImageContext(rs)
	if err != nil {
		log.Warn("image extraction failed", zap.Error(err))
		return nil
	}

	var saved []string
	for pageNr := 1; pageNr <= doc.PageCount; pageNr++ {
		objNrs := pageImageObjNrs(doc, pageNr)
		sort.Ints(objNrs)

		for n, objNr := range objNrs {
			if ctx.Err() != nil {
				return saved
			}
			name := fmt.Sprintf("p%d_img%d.png", pageNr, n+1)
			img, err := extractImage(doc, pageNr, objNr)
			if err != nil {
				log.Debug("skipping image", zap.Int("page", pageNr), zap.Int("obj", objNr), zap.Error(err))
				continue
			}
			path, err := saveImage(img, dir, name)
			if err != nil {
				log.Debug("skipping image", zap.Int("page", pageNr), zap.Int("obj", objNr), zap.Error(err))
				continue
			}
			saved = append(saved, path)
		}
	}
	return saved
}

func readImageContext(rs io.ReadSeeker) (doc *model.Context, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pdfcpu: %v", p)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.Cmd = model.EXTRACTIMAGES
	return api.ReadValidateAndOptimize(rs, conf)
}

func pageImageObjNrs(doc *model.Context, pageNr int) (objNrs []int) {
	defer func() {
		if p := recover(); p != nil {
			objNrs = nil
		}
	}()
	return pdfcpu.ImageObjNrs(doc, pageNr)
}

// extractImage renders one image object. A failure here only loses this image.
func extractImage(doc *model.Context, pageNr, objNr int) (img *model.Image, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pdfcpu: %v", p)
		}
	}()
	obj, ok := doc.Optimize.ImageObjects[objNr]
	if !ok || obj == nil || obj.ImageDict == nil {
		return nil, fmt.Errorf("no image object %d", objNr)
	}
	img, err = pdfcpu.ExtractImage(doc, obj.ImageDict, false, fmt.Sprintf("Im%d", objNr), objNr, false)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("unsupported image object %d", objNr)
	}
	img.PageNr = pageNr
	return img, nil
}

func saveImage(img *model.Image, dir, name string) (string, error) {
	if img.Reader == nil {
		return "", fmt.Errorf("image %s has no data", img.Name)
	}
	decoded, _, err := image.Decode(img.Reader)
	if err != nil {
		return "", fmt.Errorf("decoding %s image: %w", img.FileType, err)
	}
	return writePNG(normalize(decoded), dir, name)
}

// normalize converts images whose color model PNG cannot store directly
// (CMYK, which pdfcpu hands over as CMYK TIFF) into RGBA. Gray and RGB(A) images
// pass through unchanged.
func normalize(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64, *image.Paletted:
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func writePNG(img image.Image, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

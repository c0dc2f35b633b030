package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Result is the text and saved image paths pulled out of one document.
type Result struct {
	Text   string
	Images []string
}

// Error means the document could not be opened at all.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extractor reads PDF (and HTML) documents.
type Extractor struct {
	imagesDir string
	log       *zap.Logger
}

// New creates an Extractor that saves images below imagesDir/<slug>/.
func New(imagesDir string, log *zap.Logger) *Extractor {
	return &Extractor{imagesDir: imagesDir, log: log.Named("extract")}
}

// Extract returns the page-ordered text of the document at path and saves its
// embedded raster images. Problems with single pages or images are logged and
// skipped.
func (x *Extractor) Extract(ctx context.Context, path, slug string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, &Error{Path: path, Err: err}
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	switch {
	case isPDF(head):
		return x.extractPDF(ctx, f, info.Size(), path, slug)
	case strings.HasPrefix(http.DetectContentType(head), "text/html"):
		return x.extractHTML(f, path)
	}
	return nil, &Error{Path: path, Err: fmt.Errorf("unsupported document type %q", http.DetectContentType(head))}
}

func isPDF(head []byte) bool {
	return strings.HasPrefix(strings.TrimLeft(string(head), "\x00\t\r\n "), "%PDF-")
}

func (x *Extractor) extractPDF(ctx context.Context, f *os.File, size int64, path, slug string) (*Result, error) {
	r, err := openPDF(f, size)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	log := x.log.With(zap.String("slug", slug))
	text := x.pdfText(ctx, r, log)

	var images []string
	if x.imagesDir != "" && slug != "" {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			images = x.saveImages(ctx, f, filepath.Join(x.imagesDir, slug), log)
		}
	}

	return &Result{Text: text, Images: images}, nil
}

func openPDF(f io.ReaderAt, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	r, err = pdf.NewReader(f, size)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (x *Extractor) pdfText(ctx context.Context, r *pdf.Reader, log *zap.Logger) string {
	var pages []string
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if ctx.Err() != nil {
			log.Warn("text extraction interrupted", zap.Int("page", i), zap.Error(ctx.Err()))
			break
		}
		text, err := pageText(r, i)
		if err != nil {
			log.Debug("skipping page text", zap.Int("page", i), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n")
}

func pageText(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: %v", i, p)
		}
	}()
	page := r.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (x *Extractor) extractHTML(f io.Reader, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	article, err := readability.FromReader(f, &url.URL{Scheme: "file", Path: abs})
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("reading html: %w", err)}
	}
	return &Result{Text: strings.TrimSpace(article.TextContent)}, nil
}

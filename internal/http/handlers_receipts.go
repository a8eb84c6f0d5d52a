package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/receipt"
	"fintrack/internal/services"
)

// multipartOverhead leaves room for form fields next to the image.
const multipartOverhead = 1 << 20

// handleScanReceipt reads a receipt image from the multipart field "file".
// With save=true the receipt is also recorded as an expense on account.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.svc.Receipts.Enabled() {
		s.writeError(w, r, core.ExternalService("receipt extractor", errors.New("receipt scanning is not configured")))
		return
	}

	img, err := readImage(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	save, _ := strconv.ParseBool(strings.TrimSpace(r.FormValue("save")))

	res, err := s.svc.Receipts.Scan(r.Context(), u.ID, services.ScanRequest{
		Image:       img,
		Save:        save,
		AccountRef:  r.FormValue("account"),
		CategoryRef: r.FormValue("category"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Transaction != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, toScanJSON(res))
}

func readImage(w http.ResponseWriter, r *http.Request) (receipt.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, receipt.MaxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(receipt.MaxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return receipt.Image{}, core.Validation("file", "file too large, please upload an image smaller than 10MB")
		}
		return receipt.Image{}, core.Validation("file", "request must be multipart/form-data")
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		return receipt.Image{}, core.Validation("file", "no file provided")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, receipt.MaxImageSize+1))
	if err != nil {
		return receipt.Image{}, core.Validation("file", "could not read uploaded file")
	}
	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return receipt.Image{Filename: hdr.Filename, MIMEType: mimeType, Data: data}, nil
}

// Package receipt turns a photographed receipt into structured data.
//
// An Extractor sends the image to a vision model and returns the model's
// text; Parse decodes that text. Attachments are optional and kept by an
// AttachmentStore.
package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"fintrack/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxImageSize is the largest upload accepted for scanning.
const MaxImageSize = 10 << 20

// Image is an uploaded receipt photo.
type Image struct {
	Filename string
	MIMEType string
	Data     []byte
}

func (img Image) Validate() error {
	if len(img.Data) == 0 {
		return core.Validation("file", "no file provided")
	}
	if !strings.HasPrefix(strings.ToLower(img.MIMEType), "image/") {
		return core.Validation("file", "invalid file type, please upload an image file")
	}
	if len(img.Data) > MaxImageSize {
		return core.Validation("file", "file too large, please upload an image smaller than 10MB")
	}
	return nil
}

// Extractor asks a model to read the receipt and returns its raw answer.
type Extractor interface {
	Extract(ctx context.Context, img Image) (string, error)
}

// AttachmentStore keeps the original image and returns a reference to it.
type AttachmentStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Item struct {
	Name       string              `json:"name"`
	Quantity   decimal.NullDecimal `json:"quantity"`
	UnitPrice  decimal.NullDecimal `json:"unit_price"`
	TotalPrice decimal.NullDecimal `json:"total_price"`
}

// Receipt is the structured data the model is asked for. Fields the model
// could not read are null.
type Receipt struct {
	MerchantName  *string             `json:"merchant_name"`
	Date          *string             `json:"date"`
	Time          *string             `json:"time"`
	TotalAmount   decimal.NullDecimal `json:"total_amount"`
	Currency      *string             `json:"currency"`
	TaxAmount     decimal.NullDecimal `json:"tax_amount"`
	Items         []Item              `json:"items"`
	PaymentMethod *string             `json:"payment_method"`
	ReceiptNumber *string             `json:"receipt_number"`
	Category      *string             `json:"category"`
}

// ParseError reports model output that was not the JSON we asked for.
type ParseError struct {
	RawResponse string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse receipt data: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes the model's answer. The returned raw JSON is the cleaned
// text, suitable for storing alongside a transaction.
func Parse(raw string) (Receipt, json.RawMessage, error) {
	clean := CleanJSON(raw)
	var r Receipt
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return Receipt{}, nil, &ParseError{RawResponse: clean, Err: err}
	}
	return r, json.RawMessage(clean), nil
}

// CleanJSON strips Markdown code fences and any text around the outermost
// JSON object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = strings.TrimSpace(s[idx+1:])
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// Amount returns the receipt total as Money.
func (r Receipt) Amount() (core.Money, bool) {
	if !r.TotalAmount.Valid {
		return core.Money{}, false
	}
	return core.NewMoney(r.TotalAmount.Decimal), true
}

// TransactionDate parses the receipt date, falling back to the calendar
// date of now when it is missing or unreadable.
func (r Receipt) TransactionDate(now time.Time) core.Date {
	if r.Date != nil {
		if d, err := core.ParseDate(*r.Date); err == nil {
			return d
		}
	}
	return core.DateOf(now)
}

func (r Receipt) Merchant() string {
	if r.MerchantName == nil {
		return ""
	}
	return strings.TrimSpace(*r.MerchantName)
}

func (r Receipt) CategoryName() string {
	if r.Category == nil {
		return ""
	}
	return strings.TrimSpace(*r.Category)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/gif":  ".gif",
}

// ObjectKey names an uploaded image: receipts/<user>/<yyyy>/<mm>/<uuid><ext>.
func ObjectKey(userID string, img Image, now time.Time) string {
	ext := extensions[strings.ToLower(img.MIMEType)]
	if ext == "" {
		ext = strings.ToLower(path.Ext(img.Filename))
	}
	return path.Join("receipts", userID, now.UTC().Format("2006"), now.UTC().Format("01"), uuid.NewString()+ext)
}

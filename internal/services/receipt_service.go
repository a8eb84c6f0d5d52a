package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/receipt"
)

// ScanRequest asks for a receipt to be read and optionally recorded as an
// expense on AccountRef.
type ScanRequest struct {
	Image       receipt.Image
	Save        bool
	AccountRef  string
	CategoryRef string // overrides the category the model guessed
}

// ScanResult carries either the parsed receipt or, when the model answer
// could not be decoded, its raw text.
type ScanResult struct {
	Receipt     *receipt.Receipt
	Data        json.RawMessage
	ParseError  string
	RawResponse string
	ReceiptRef  string
	Transaction *core.Transaction
}

type ReceiptService struct {
	extractor   receipt.Extractor
	attachments receipt.AttachmentStore
	ledger      *LedgerService
	store       ledger.Store
	opts        Options
}

// NewReceiptService wires the extractor; attachments may be nil.
func NewReceiptService(extractor receipt.Extractor, attachments receipt.AttachmentStore, ledgerSvc *LedgerService, store ledger.Store, opts Options) *ReceiptService {
	return &ReceiptService{
		extractor:   extractor,
		attachments: attachments,
		ledger:      ledgerSvc,
		store:       store,
		opts:        opts.withDefaults(log.ComponentReceipt),
	}
}

// Enabled reports whether an extractor is configured.
func (s *ReceiptService) Enabled() bool {
	return s != nil && s.extractor != nil
}

func (s *ReceiptService) Scan(ctx context.Context, userID string, req ScanRequest) (ScanResult, error) {
	if !s.Enabled() {
		return ScanResult{}, core.ExternalService("receipt extractor", errors.New("receipt scanning is not configured"))
	}
	if err := req.Image.Validate(); err != nil {
		return ScanResult{}, err
	}
	if req.Save && strings.TrimSpace(req.AccountRef) == "" {
		return ScanResult{}, core.Validation("account", "account is required to save a scanned receipt")
	}

	raw, err := s.extractor.Extract(ctx, req.Image)
	if err != nil {
		log.LogError(ctx, s.opts.Logger, "Receipt extraction failed", err,
			log.ErrorTypeExternalService, log.OpExtract, log.NewFields().WithUser(userID))
		return ScanResult{}, err
	}

	rec, data, err := receipt.Parse(raw)
	if err != nil {
		var pe *receipt.ParseError
		if errors.As(err, &pe) {
			s.opts.Logger.WarnContext(ctx, "Receipt response was not valid JSON",
				log.FieldUserID, userID, "raw_length", len(pe.RawResponse))
			return ScanResult{ParseError: "Failed to parse receipt data", RawResponse: pe.RawResponse}, nil
		}
		return ScanResult{}, err
	}
	res := ScanResult{Receipt: &rec, Data: data}
	if !req.Save {
		return res, nil
	}

	if s.attachments != nil {
		key := receipt.ObjectKey(userID, req.Image, s.opts.Now())
		ref, err := s.attachments.Put(ctx, key, req.Image.MIMEType, req.Image.Data)
		if err != nil {
			// The expense is still worth recording without the image.
			s.opts.Logger.WarnContext(ctx, "Failed to store receipt image",
				log.FieldUserID, userID, log.FieldError, err.Error())
		} else {
			res.ReceiptRef = ref
		}
	}

	tx, err := s.save(ctx, userID, req, rec, data, res.ReceiptRef)
	if err != nil {
		return ScanResult{}, err
	}
	res.Transaction = &tx
	return res, nil
}

func (s *ReceiptService) save(ctx context.Context, userID string, req ScanRequest, rec receipt.Receipt, data json.RawMessage, ref string) (core.Transaction, error) {
	amount, ok := rec.Amount()
	if !ok || !amount.IsPositive() {
		return core.Transaction{}, core.Validation("amount", "receipt total could not be read")
	}

	categoryRef := strings.TrimSpace(req.CategoryRef)
	if categoryRef == "" {
		var err error
		if categoryRef, err = s.matchCategory(ctx, userID, rec.CategoryName()); err != nil {
			return core.Transaction{}, err
		}
	}

	return s.ledger.Create(ctx, userID, NewTransaction{
		AccountRef:  req.AccountRef,
		CategoryRef: categoryRef,
		Amount:      amount,
		Type:        core.Expense,
		Status:      core.Cleared,
		Date:        rec.TransactionDate(s.opts.Now()),
		Description: rec.Merchant(),
		ReceiptRef:  ref,
		ReceiptData: data,
	})
}

// matchCategory finds the user's category whose name equals the model's
// guess ignoring case.
func (s *ReceiptService) matchCategory(ctx context.Context, userID, guess string) (string, error) {
	if guess == "" {
		return "", core.Validation("category", "receipt category could not be read, pass one explicitly")
	}
	cats, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, guess) {
			return c.ID, nil
		}
	}
	return "", core.NotFound("category", guess)
}

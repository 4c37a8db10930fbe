package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/money"

	"go.uber.org/zap"
)

// ReceiptService reads a receipt photo and suggests expense lines.
type ReceiptService interface {
	ScanReceipt(ctx context.Context, activityID, actorID string, image io.Reader, contentType string) (*models.ReceiptScan, error)
}

type receiptService struct {
	generator ImageTextGenerator
	auth      Authorizer
}

func NewReceiptService(generator ImageTextGenerator, auth Authorizer) ReceiptService {
	return &receiptService{generator: generator, auth: auth}
}

const receiptPrompt = `Extract the purchased items and the totals from this receipt.

Return ONLY valid JSON in this format:
{
  "items": [{ "name": "string", "price": "decimal string" }],
  "subtotal": "decimal string",
  "tax": "decimal string",
  "total": "decimal string"
}

Rules:
- Prices are in the receipt's currency with at most two decimal places.
- "tax" is the sum of all taxes and service charges listed separately.
- If a field is not on the receipt, use "0".
- Do not include markdown formatting, code blocks, or any other text.`

type receiptResponse struct {
	Items []struct {
		Name  string      `json:"name"`
		Price money.Money `json:"price"`
	} `json:"items"`
	Subtotal money.Money `json:"subtotal"`
	Tax      money.Money `json:"tax"`
	Total    money.Money `json:"total"`
}

func (s *receiptService) ScanReceipt(ctx context.Context, activityID, actorID string, image io.Reader, contentType string) (*models.ReceiptScan, error) {
	if _, ok := receiptContentTypes[contentType]; !ok {
		return nil, apperrors.InvalidFieldFormat("file", "a JPEG, PNG, WebP or GIF image")
	}
	if err := RequireActivityManager(ctx, s.auth, activityID, actorID); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(image)
	if err != nil {
		return nil, apperrors.InvalidRequest("Failed to read uploaded image.")
	}

	text, err := s.generator.GenerateFromImage(ctx, receiptPrompt, contentType, data)
	if err != nil {
		zap.L().Error("Receipt scan failed", zap.String("activity_id", activityID), zap.Error(err))
		return nil, apperrors.AIServiceError(err)
	}

	var resp receiptResponse
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &resp); err != nil {
		zap.L().Warn("Unparseable receipt response",
			zap.String("activity_id", activityID),
			zap.Int("length", len(text)),
			zap.Error(err))
		return nil, apperrors.AIServiceError(fmt.Errorf("parsing receipt response: %w", err))
	}

	scan := &models.ReceiptScan{
		Items:    []models.ScannedItem{},
		Subtotal: resp.Subtotal.Round(),
		Tax:      resp.Tax.Round(),
		Total:    resp.Total.Round(),
	}
	amounts := make([]money.Money, 0, len(resp.Items))
	for _, item := range resp.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Price.IsNegative() {
			continue
		}
		if len(name) > MaxExpenseItemLength {
			name = strings.ToValidUTF8(name[:MaxExpenseItemLength], "")
		}
		amount := item.Price.Round()
		scan.Items = append(scan.Items, models.ScannedItem{Name: name, Amount: amount})
		amounts = append(amounts, amount)
	}
	scan.ItemsTotal = money.Sum(amounts...)

	zap.L().Info("Receipt scanned",
		zap.String("activity_id", activityID),
		zap.Int("items", len(scan.Items)),
		zap.String("total", scan.Total.String()))
	return scan, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence, which models add
// despite being asked not to.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

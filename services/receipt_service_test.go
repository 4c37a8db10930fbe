package services

import (
	"errors"
	"strings"
	"testing"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanReceipt(t *testing.T) {
	env := newTestEnv(t, models.Activity{})
	env.generator.reply = "```json\n" + `{"items":[{"name":"Court hire","price":"40.005"},{"name":" ","price":"1"},{"name":"Refund","price":"-2"},{"name":"Shuttles","price":12.5}],"subtotal":"52.51","total":"52.51"}` + "\n```"

	scan, err := env.receipts.ScanReceipt(t.Context(), actID, organizer, strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)

	require.Len(t, scan.Items, 2)
	assert.Equal(t, "Court hire", scan.Items[0].Name)
	assert.Equal(t, "40.01", scan.Items[0].Amount.String())
	assert.Equal(t, "12.50", scan.Items[1].Amount.String())
	assert.Equal(t, "52.51", scan.ItemsTotal.String())
	assert.Equal(t, "52.51", scan.Total.String())
	assert.Equal(t, "0.00", scan.Tax.String())
	assert.Equal(t, []string{"image/png"}, env.generator.mimeTypes)

	lines, err := env.expenses.List(t.Context(), actID, organizer)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestScanReceiptErrors(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		contentType string
		reply       string
		genErr      error
		code        apperrors.ErrorCode
	}{
		{name: "not an image", actor: organizer, contentType: "application/pdf", code: apperrors.CodeInvalidFieldFormat},
		{name: "not a manager", actor: outsider, contentType: "image/jpeg", code: apperrors.CodeNotActivityManager},
		{name: "generator down", actor: organizer, contentType: "image/jpeg", genErr: errors.New("quota"), code: apperrors.CodeAIServiceError},
		{name: "unparseable reply", actor: organizer, contentType: "image/jpeg", reply: "I can't read this receipt.", code: apperrors.CodeAIServiceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, models.Activity{})
			env.generator.reply = tt.reply
			env.generator.err = tt.genErr

			_, err := env.receipts.ScanReceipt(t.Context(), actID, tt.actor, strings.NewReader("img"), tt.contentType)
			requireCode(t, err, tt.code)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```\n", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in))
	}
}

package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "sk_live_****3456", MaskSecret("sk_live_abcdef123456"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskMetadata(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"case_id":  "2025001",
		"":         "dropped",
		"password": "hunter2hunter2",
		"sink": map[string]any{
			"gcs_credentials": "svc_account1234",
			"bucket":          "caseledger-backups",
		},
		"tokens":    []any{"x"},
		"api_token": []any{"tok_abcdefgh"},
	})

	assert.Equal(t, "2025001", out["case_id"])
	assert.NotContains(t, out, "")
	assert.Equal(t, "****ter2", out["password"])
	sink := out["sink"].(map[string]any)
	assert.Equal(t, "svc_****1234", sink["gcs_credentials"])
	assert.Equal(t, "caseledger-backups", sink["bucket"])
	assert.Equal(t, []any{"x"}, out["tokens"])
	assert.Equal(t, []any{"tok_****efgh"}, out["api_token"])
}

package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecretKeepsPrefixAndSuffix(t *testing.T) {
	assert.Equal(t, "sk_live_****wxyz", MaskSecret("sk_live_abcdefwxyz"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "r****@example.com", MaskEmail("reader@example.com"))
	assert.Equal(t, "****", MaskEmail("@x"))
}

func TestMaskFieldsOnlyTouchesSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"title":          "Dune",
		"customer_email": "reader@example.com",
		"download_token": "abcdef123456",
		"nested":         map[string]any{"token": "tok_9876543210", "count": 2},
		"":               "dropped",
	}

	out := MaskFields(in, "customer_email", "download_token", "token")

	assert.Equal(t, "Dune", out["title"])
	assert.Equal(t, "r****@example.com", out["customer_email"])
	assert.Equal(t, "****3456", out["download_token"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "tok_****3210", nested["token"])
	assert.Equal(t, 2, nested["count"])
	assert.NotContains(t, out, "")

	assert.Equal(t, "reader@example.com", in["customer_email"])
	assert.Nil(t, MaskFields(nil, "token"))
}

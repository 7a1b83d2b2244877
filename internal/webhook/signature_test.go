package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

func TestGenerateSecret(t *testing.T) {
	first, err := GenerateSecret()
	require.NoError(t, err)
	second, err := GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, SecretPrefix))
	assert.Len(t, first, len(SecretPrefix)+43)
	assert.NotEqual(t, first, second)
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"status":"completed"}`)
	signature := Sign("whsec_secret", body)

	assert.True(t, strings.HasPrefix(signature, SignaturePrefix))
	assert.NoError(t, Verify("whsec_secret", body, signature))
	assert.ErrorIs(t, Verify("whsec_other", body, signature), domain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec_secret", []byte(`{}`), signature), domain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec_secret", body, strings.TrimPrefix(signature, SignaturePrefix)), domain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("", body, signature), domain.ErrInvalidSignature)
}

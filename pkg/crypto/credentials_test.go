package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTenantID(t *testing.T) {
	tests := []struct {
		name        string
		companyName string
		wantPrefix  string
		wantErr     bool
	}{
		{name: "普通公司名", companyName: "Acme Oil Gas", wantPrefix: "ACMEOILG"},
		{name: "超过8个字母截断", companyName: "Continental Resources", wantPrefix: "CONTINEN"},
		{name: "短名称", companyName: "BP", wantPrefix: "BP"},
		{name: "混合数字和符号", companyName: "7-Eleven Energy!", wantPrefix: "ELEVENEN"},
		{name: "全是数字", companyName: "12345", wantErr: true},
		{name: "空字符串", companyName: "", wantErr: true},
		{name: "只有符号", companyName: "!@#$%", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := GenerateTenantID(tt.companyName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, TenantIDPattern.MatchString(id), "生成的ID应匹配格式: %s", id)
			assert.True(t, strings.HasPrefix(id, tt.wantPrefix+"-"), "ID=%s 前缀应为 %s", id, tt.wantPrefix)
		})
	}
}

func TestGenerateTenantIDRandomness(t *testing.T) {
	// 同一公司名多次生成，后缀应不同
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := GenerateTenantID("Acme")
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45, "后缀随机性不足")
}

func TestGenerateSecretKey(t *testing.T) {
	plaintext, hash, err := GenerateSecretKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, "wp_sk_"))
	assert.Len(t, hash, 64, "摘要应为hex编码的SHA-256")
	assert.NotContains(t, hash, plaintext)
}

func TestVerifySecretKeyRoundTrip(t *testing.T) {
	plaintext, hash, err := GenerateSecretKey()
	require.NoError(t, err)

	assert.True(t, VerifySecretKey(plaintext, hash))

	// 错误的明文不能通过
	assert.False(t, VerifySecretKey(plaintext+"x", hash))
	assert.False(t, VerifySecretKey("wp_sk_other", hash))
	// 长度不同的输入同样返回false
	assert.False(t, VerifySecretKey("short", hash))
	assert.False(t, VerifySecretKey("", hash))
}

func TestVerifySecretKeyMalformedHash(t *testing.T) {
	plaintext, _, err := GenerateSecretKey()
	require.NoError(t, err)

	// 摘要格式不合法一律返回false，不panic
	assert.False(t, VerifySecretKey(plaintext, ""))
	assert.False(t, VerifySecretKey(plaintext, "abc"))
	assert.False(t, VerifySecretKey(plaintext, strings.Repeat("z", 64)))
	assert.False(t, VerifySecretKey(plaintext, strings.Repeat("0", 63)))
}

func TestHashSecretKeyDeterministic(t *testing.T) {
	h1 := HashSecretKey("wp_sk_fixed")
	h2 := HashSecretKey("wp_sk_fixed")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashSecretKey("wp_sk_fixed2"))
}

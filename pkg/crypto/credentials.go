package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// 租户凭证格式：{1-8位大写字母}-{6位大写字母或数字}
// 前缀取自公司名称，便于人工辨认；后缀随机
var TenantIDPattern = regexp.MustCompile(`^[A-Z]{1,8}-[A-Z0-9]{6}$`)

const (
	tenantIDPrefixMax   = 8
	tenantIDSuffixLen   = 6
	tenantIDSuffixChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// secretKeyBytes 256位随机密钥
	secretKeyBytes  = 32
	secretKeyPrefix = "wp_sk_"
)

// GenerateTenantID 根据公司名称生成租户凭证标识
// 仅保留字母、转大写、截取前8位作为前缀；全局唯一性由调用方查库保证
func GenerateTenantID(companyName string) (string, error) {
	var letters []rune
	for _, r := range companyName {
		if unicode.IsLetter(r) {
			letters = append(letters, unicode.ToUpper(r))
		}
	}
	if len(letters) == 0 {
		return "", fmt.Errorf("公司名称中不包含字母，无法生成租户标识")
	}
	if len(letters) > tenantIDPrefixMax {
		letters = letters[:tenantIDPrefixMax]
	}

	suffix, err := randomSuffix(tenantIDSuffixLen)
	if err != nil {
		return "", err
	}

	return string(letters) + "-" + suffix, nil
}

// randomSuffix 生成大写字母+数字的随机后缀
func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成随机数失败: %v", err)
	}

	var sb strings.Builder
	for _, b := range buf {
		sb.WriteByte(tenantIDSuffixChars[int(b)%len(tenantIDSuffixChars)])
	}
	return sb.String(), nil
}

// GenerateSecretKey 生成租户密钥
// 返回明文密钥和SHA-256摘要。明文只在此刻可见，调用方负责一次性交付，永不落库
func GenerateSecretKey() (plaintext string, hash string, err error) {
	buf := make([]byte, secretKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("生成密钥失败: %v", err)
	}

	plaintext = secretKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, HashSecretKey(plaintext), nil
}

// HashSecretKey 计算密钥摘要（hex编码的SHA-256）
func HashSecretKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerifySecretKey 校验明文密钥与存储的摘要是否匹配
// 使用常数时间比较防止时序侧信道；输入格式不合法一律返回false，不返回错误
func VerifySecretKey(plaintext, storedHash string) bool {
	if plaintext == "" || len(storedHash) != sha256.Size*2 {
		return false
	}
	stored, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}

	sum := sha256.Sum256([]byte(plaintext))
	return subtle.ConstantTimeCompare(sum[:], stored) == 1
}

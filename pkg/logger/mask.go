package logger

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s"]+`)
	secretPattern = regexp.MustCompile(`(?i)(api_key|apikey|key|token|secret|password)([=:]\s*)[^\s&"]+`)
)

// MaskURL keeps the host of a URL and replaces the rest with a short hash,
// so endpoints carrying credentials in the path or query can be logged
func MaskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "endpoint#" + shortHash(rawURL)
	}
	return fmt.Sprintf("%s#%s", parsed.Host, shortHash(rawURL))
}

// MaskSecret shows only the last four characters of a credential
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}

// MaskKeywords summarizes a keyword list without logging all of it
func MaskKeywords(keywords []string) string {
	switch {
	case len(keywords) == 0:
		return "no_keywords"
	case len(keywords) <= 3:
		return fmt.Sprintf("keywords_count=%d", len(keywords))
	default:
		return fmt.Sprintf("keywords_count=%d,sample=[%s,%s,...]", len(keywords), keywords[0], keywords[1])
	}
}

// MaskMessage masks URLs and inline credentials in free text such as vendor error bodies
func MaskMessage(message string) string {
	masked := urlPattern.ReplaceAllStringFunc(message, MaskURL)
	return secretPattern.ReplaceAllString(masked, "${1}${2}***")
}

// MaskFields masks the values of credential-like and URL-like keys
func MaskFields(fields map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		lower := strings.ToLower(key)
		str, isString := value.(string)
		switch {
		case isString && (strings.Contains(lower, "key") || strings.Contains(lower, "password") ||
			strings.Contains(lower, "token") || strings.Contains(lower, "secret")):
			masked[key] = MaskSecret(str)
		case isString && (strings.Contains(lower, "url") || strings.Contains(lower, "endpoint") || strings.Contains(lower, "dsn")):
			masked[key] = MaskURL(str)
		default:
			masked[key] = value
		}
	}
	return masked
}

func shortHash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum[:4])
}

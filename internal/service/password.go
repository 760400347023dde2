package service

import (
	"strings"
	"unicode"

	"lesionlog/internal/pkg/apperr"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	passwordSymbols   = "@$!%*?&"
)

const weakPasswordMessage = "Password must be at least 8 characters long and contain at least one uppercase letter, one lowercase letter, one number, and one special character (@$!%*?&)"

// CheckPasswordStrength 校验密码强度：至少 8 位，包含大小写字母、数字和 @$!%*?& 中的符号，
// 且只能由这些字符组成。
func CheckPasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Validation(weakPasswordMessage)
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r > unicode.MaxASCII:
			return apperr.Validation(weakPasswordMessage)
		case 'A' <= r && r <= 'Z':
			upper = true
		case 'a' <= r && r <= 'z':
			lower = true
		case '0' <= r && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		default:
			return apperr.Validation(weakPasswordMessage)
		}
	}
	if !upper || !lower || !digit || !symbol {
		return apperr.Validation(weakPasswordMessage)
	}
	return nil
}

func hashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", apperr.Internal("Failed to hash password", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

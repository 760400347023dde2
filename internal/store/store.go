// Package store 是基于 GORM 的 MySQL 持久层。
package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束（用户名或邮箱重复）。
	ErrDuplicate = errors.New("duplicate record")
)

// translate 把 GORM 错误映射为本包的哨兵错误。
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern 生成大小写不敏感的子串匹配模式，转义 LIKE 通配符。
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

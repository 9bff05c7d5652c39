// Package store 是基于 gorm 的持久化层：用户、房间、消息，以及跨表的会话查询。
package store

import (
	"errors"
	"sort"
	"strings"

	"chatserver/internal/pagination"

	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
	ErrMemberExists   = errors.New("user is already a room member")
	ErrNotMember      = errors.New("user is not a room member")
	ErrMemberKeyTaken = errors.New("a room with this membership already exists")
)

// MemberKey 由房间类型与成员集合（与顺序无关）生成唯一键，不修改入参。
func MemberKey(roomType string, userIDs []string) string {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	return roomType + ":" + strings.Join(ids, ",")
}

// paginate 把 QuerySpec 窗口应用到已排序的查询上。
func paginate(spec pagination.QuerySpec) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(spec.Offset).Limit(spec.Limit)
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

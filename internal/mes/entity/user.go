package entity

import (
	"time"
)

// User 用户实体
type User struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	Username   string     `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Name       string     `json:"name" gorm:"size:64;not null"`
	Email      string     `json:"email" gorm:"size:128;index"`
	EmployeeNo string     `json:"employee_no" gorm:"size:32;index"`
	Status     string     `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at" gorm:"index"`

	Roles []Role `json:"roles,omitempty" gorm:"many2many:user_roles;"`
}

func (User) TableName() string {
	return "users"
}

// Role 角色实体
type Role struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Code        string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"size:64;not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions;"`
}

func (Role) TableName() string {
	return "roles"
}

// Permission 权限实体
type Permission struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Code        string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"size:64;not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Permission) TableName() string {
	return "permissions"
}

// 权限码
const (
	PermWorkOrderRead     = "work_orders:read"
	PermWorkOrderCreate   = "work_orders:create"
	PermWorkOrderUpdate   = "work_orders:update"
	PermWorkOrderDelete   = "work_orders:delete"
	PermWorkOrderOverride = "work_orders:override"
	PermWorkCenterManage  = "work_centers:manage"
	PermAll               = "*"
)

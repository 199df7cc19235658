package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role represents an account's role on the platform
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
	RoleParent      Role = "parent"
)

// Roles lists every known role
var Roles = []Role{RoleSuperAdmin, RoleTenantAdmin, RoleTeacher, RoleStudent, RoleParent}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// TenantScoped reports whether accounts with this role must belong to a tenant
func (r Role) TenantScoped() bool {
	return r != RoleSuperAdmin
}

// AccountStatus represents whether an account may sign in
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountPending  AccountStatus = "pending"
)

// Valid reports whether s is a known account status
func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountInactive || s == AccountPending
}

// Account is an identity that can sign in
type Account struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	TenantID           *uuid.UUID    `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	Email              string        `gorm:"not null;uniqueIndex:idx_accounts_email" json:"email"`
	FirstName          string        `gorm:"not null" json:"first_name"`
	LastName           string        `gorm:"not null" json:"last_name"`
	Phone              string        `json:"phone,omitempty"`
	Role               Role          `gorm:"not null;index" json:"role"`
	PasswordHash       string        `gorm:"not null" json:"-"`
	MustChangePassword bool          `gorm:"not null;default:false" json:"must_change_password"`
	Status             AccountStatus `gorm:"not null;default:'active'" json:"status"`
	LastLoginAt        *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	Profile     Profile `gorm:"-" json:"profile,omitempty"`
	ProfileData []byte  `gorm:"column:profile;type:jsonb" json:"-"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// DisplayName returns the name shown in sessions and notices
func (a *Account) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// CheckProfile verifies the profile variant matches the role
func (a *Account) CheckProfile() error {
	if a.Profile == nil {
		return nil
	}
	if _, ok := a.Profile.(AdminProfile); ok && a.Role == RoleSuperAdmin {
		return nil
	}
	if a.Profile.Role() != a.Role {
		return fmt.Errorf("profile for %s attached to %s account", a.Profile.Role(), a.Role)
	}
	return nil
}

// Clone returns a deep copy of the account
func (a *Account) Clone() *Account {
	c := *a
	if a.TenantID != nil {
		id := *a.TenantID
		c.TenantID = &id
	}
	if a.LastLoginAt != nil {
		at := *a.LastLoginAt
		c.LastLoginAt = &at
	}
	if a.Profile != nil {
		c.Profile = a.Profile.clone()
	}
	c.ProfileData = append([]byte(nil), a.ProfileData...)
	return &c
}

// BeforeSave encodes the profile into its column
func (a *Account) BeforeSave(tx *gorm.DB) error {
	if err := a.CheckProfile(); err != nil {
		return err
	}
	data, err := EncodeProfile(a.Profile)
	if err != nil {
		return err
	}
	a.ProfileData = data
	return nil
}

// AfterFind decodes the profile column by role
func (a *Account) AfterFind(tx *gorm.DB) error {
	profile, err := DecodeProfile(a.Role, a.ProfileData)
	if err != nil {
		return err
	}
	a.Profile = profile
	return nil
}

// UnmarshalJSON restores the profile variant that matches the role
func (a *Account) UnmarshalJSON(data []byte) error {
	type plain Account
	aux := struct {
		*plain
		Profile json.RawMessage `json:"profile,omitempty"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	profile, err := DecodeProfile(a.Role, aux.Profile)
	if err != nil {
		return err
	}
	a.Profile = profile
	return nil
}

// AccountPatch carries the mutable account attributes
type AccountPatch struct {
	FirstName          *string        `json:"first_name"`
	LastName           *string        `json:"last_name"`
	Phone              *string        `json:"phone"`
	Status             *AccountStatus `json:"status"`
	PasswordHash       *string        `json:"-"`
	MustChangePassword *bool          `json:"-"`
	LastLoginAt        *time.Time     `json:"-"`
	Profile            Profile        `json:"-"`
}

// Apply copies the set fields onto a
func (p AccountPatch) Apply(a *Account) {
	if p.FirstName != nil {
		a.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		a.LastName = *p.LastName
	}
	if p.Phone != nil {
		a.Phone = *p.Phone
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.MustChangePassword != nil {
		a.MustChangePassword = *p.MustChangePassword
	}
	if p.LastLoginAt != nil {
		at := *p.LastLoginAt
		a.LastLoginAt = &at
	}
	if p.Profile != nil {
		a.Profile = p.Profile.clone()
	}
}

// Profile holds the role-specific attributes of an account
type Profile interface {
	Role() Role
	clone() Profile
}

// AdminProfile is attached to tenant and super admins
type AdminProfile struct {
	Title string `json:"title,omitempty"`
}

// TeacherProfile carries the staff attributes of a teacher
type TeacherProfile struct {
	EmployeeNumber string   `json:"employee_number"`
	Subjects       []string `json:"subjects,omitempty"`
}

// StudentProfile carries enrolment attributes. ParentEmail may name a parent
// account that does not exist yet; it is resolved when read.
type StudentProfile struct {
	AdmissionNumber string `json:"admission_number"`
	ClassName       string `json:"class_name,omitempty"`
	ParentEmail     string `json:"parent_email,omitempty"`
}

// ParentProfile lists the students a parent is linked to
type ParentProfile struct {
	ChildEmails []string `json:"child_emails,omitempty"`
}

func (AdminProfile) Role() Role { return RoleTenantAdmin }
func (TeacherProfile) Role() Role { return RoleTeacher }
func (StudentProfile) Role() Role { return RoleStudent }
func (ParentProfile) Role() Role { return RoleParent }

func (p AdminProfile) clone() Profile { return p }

func (p TeacherProfile) clone() Profile {
	p.Subjects = append([]string(nil), p.Subjects...)
	return p
}

func (p StudentProfile) clone() Profile { return p }

func (p ParentProfile) clone() Profile {
	p.ChildEmails = append([]string(nil), p.ChildEmails...)
	return p
}

// EncodeProfile serializes a profile for storage
func EncodeProfile(p Profile) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodeProfile restores the profile variant that belongs to role
func DecodeProfile(role Role, data []byte) (Profile, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var (
		profile Profile
		err     error
	)
	switch role {
	case RoleTenantAdmin, RoleSuperAdmin:
		var p AdminProfile
		err = json.Unmarshal(data, &p)
		profile = p
	case RoleTeacher:
		var p TeacherProfile
		err = json.Unmarshal(data, &p)
		profile = p
	case RoleStudent:
		var p StudentProfile
		err = json.Unmarshal(data, &p)
		profile = p
	case RoleParent:
		var p ParentProfile
		err = json.Unmarshal(data, &p)
		profile = p
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s profile: %w", role, err)
	}
	return profile, nil
}

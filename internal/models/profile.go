package models

import "time"

// TeacherProfile carries the staff detail row provisioned alongside a user
// holding the teacher (or leading_teacher) role.
type TeacherProfile struct {
	BaseModel

	UserID     string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User       *User  `gorm:"foreignKey:UserID" json:"-"`
	StaffCode  string `gorm:"uniqueIndex" json:"staff_code"`
	Department string `json:"department"`
	Subject    string `json:"subject"`

	JoinedOn *time.Time `json:"joined_on"`
}

// StudentProfile carries the enrollment detail row provisioned alongside a
// user holding the student role.
type StudentProfile struct {
	BaseModel

	UserID      string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User        *User  `gorm:"foreignKey:UserID" json:"-"`
	AdmissionNo string `gorm:"uniqueIndex" json:"admission_no"`
	ClassName   string `json:"class_name"`
	Section     string `json:"section"`

	EnrolledOn *time.Time `json:"enrolled_on"`
}

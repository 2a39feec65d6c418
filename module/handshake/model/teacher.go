package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Teacher is the claiming identity. TeacherID is the human-assigned external
// identifier; lookups match it case-insensitively. CompanyIDs only ever grows
// through the handshake path; removal is an administrative operation.
type Teacher struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TeacherID  string             `bson:"teacher_id" json:"teacherId"`
	Name       string             `bson:"name" json:"name"`
	Email      string             `bson:"email,omitempty" json:"email"`
	Phone      string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Status     string             `bson:"status,omitempty" json:"status,omitempty"`
	CompanyIDs []string           `bson:"company_ids" json:"companyIds"`

	CreateTime time.Time `bson:"create_time" json:"-"`
	UpdateTime time.Time `bson:"update_time" json:"-"`
}

func (Teacher) GetTableName() string {
	return "teachers"
}

// HasCompany reports membership without touching storage; the authoritative
// insert is the atomic $addToSet in the store layer.
func (t *Teacher) HasCompany(companyID string) bool {
	for _, id := range t.CompanyIDs {
		if id == companyID {
			return true
		}
	}
	return false
}

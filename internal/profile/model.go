// File: internal/profile/model.go
package profile

import (
	"time"
)

// Profile is the per-user loyalty profile document stored in Firestore.
// The document ID is the Firebase Auth UID; UserID is populated from it on
// reads and never stored as a field.
type Profile struct {
	UserID      string    `firestore:"-" json:"user_id"`
	DisplayName string    `firestore:"displayName" json:"display_name"`
	PhotoURL    string    `firestore:"photoUrl" json:"photo_url,omitempty"`
	Email       string    `firestore:"email" json:"email,omitempty"`
	Phone       string    `firestore:"phone" json:"phone,omitempty"`
	Address     string    `firestore:"address" json:"address,omitempty"`
	Points      int64     `firestore:"points" json:"points"`
	CreatedAt   time.Time `firestore:"createdAt,serverTimestamp" json:"created_at"`
	UpdatedAt   time.Time `firestore:"updatedAt,serverTimestamp" json:"updated_at"`
}

// Draft is the working copy of the editable profile fields. It diverges from
// the synced Profile while an edit session is open; points are deliberately
// not part of it.
type Draft struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
}

func draftFrom(p Profile) Draft {
	return Draft{
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Email:       p.Email,
		Phone:       p.Phone,
		Address:     p.Address,
	}
}

// applyTo writes the draft's fields onto a profile, leaving points and
// timestamps untouched.
func (d Draft) applyTo(p *Profile) {
	p.DisplayName = d.DisplayName
	p.PhotoURL = d.PhotoURL
	p.Email = d.Email
	p.Phone = d.Phone
	p.Address = d.Address
}

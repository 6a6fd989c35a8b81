package models

import (
	"errors"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ErrInvalidTurn is returned when a turn carries no content or an unknown role.
var ErrInvalidTurn = errors.New("turn must contain text or image content")

// Turn is one message exchanged within a session.
type Turn struct {
	Role      Role       `json:"role" bson:"role" firestore:"role"`
	Parts     []Part     `json:"parts" bson:"parts" firestore:"parts"`
	Timestamp *time.Time `json:"timestamp,omitempty" bson:"timestamp,omitempty" firestore:"timestamp,omitempty"`
}

// Part is a single content fragment: either text or base64 inline data.
type Part struct {
	Text       string      `json:"text,omitempty" bson:"text,omitempty" firestore:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty" bson:"inline_data,omitempty" firestore:"inline_data,omitempty"`
}

// InlineData holds an image payload. Data is always base64 (standard encoding).
type InlineData struct {
	MimeType string `json:"mime_type" bson:"mime_type" firestore:"mime_type"`
	Data     string `json:"data" bson:"data" firestore:"data"`
}

// Valid reports whether the role is one of the two persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Validate checks the invariants every persisted turn must satisfy.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return ErrInvalidTurn
	}
	for _, p := range t.Parts {
		if p.Text != "" || (p.InlineData != nil && p.InlineData.Data != "") {
			return nil
		}
	}
	return ErrInvalidTurn
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// CloneTurns copies a history slice including nested parts.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		c := t
		if t.Parts != nil {
			c.Parts = make([]Part, len(t.Parts))
			for j, p := range t.Parts {
				c.Parts[j] = p
				if p.InlineData != nil {
					d := *p.InlineData
					c.Parts[j].InlineData = &d
				}
			}
		}
		if t.Timestamp != nil {
			ts := *t.Timestamp
			c.Timestamp = &ts
		}
		out[i] = c
	}
	return out
}

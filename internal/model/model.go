// Package model defines domain entities shared by the session, sync and service layers.
package model

import (
	"strings"
	"time"
)

// Identity is the authenticated user's record held in the session.
type Identity struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Username    string   `json:"username,omitempty"`
	Height      *float64 `json:"height,omitempty"` // inches
	Weight      *float64 `json:"weight,omitempty"`
	Sex         string   `json:"sex,omitempty"`
	Goal        string   `json:"description,omitempty"`
	AccessToken string   `json:"token,omitempty"`
}

// Valid reports whether the identity may be stored in the session.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.ID) != ""
}

// Post is a forum post. ID is 0 until the backend assigns one.
type Post struct {
	ID       int64  `json:"id"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
	Likes    int    `json:"likes"`
}

// Key returns the post ID used to index optimistic collections.
func (p Post) Key() int64 { return p.ID }
// LikeCount returns the current like total.
func (p Post) LikeCount() int { return p.Likes }
// WithLikes returns a copy of p with the like total set to n.
func (p Post) WithLikes(n int) Post { p.Likes = n; return p }

// Comment is a reply to a post.
type Comment struct {
	ID       int64  `json:"id"`
	PostID   int64  `json:"postId"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
	Likes    int    `json:"likes"`
}

// Key returns the comment ID used to index optimistic collections.
func (c Comment) Key() int64 { return c.ID }
// LikeCount returns the current like total.
func (c Comment) LikeCount() int { return c.Likes }
// WithLikes returns a copy of c with the like total set to n.
func (c Comment) WithLikes(n int) Comment { c.Likes = n; return c }

// NutritionItem is a food product as scanned or entered by hand.
type NutritionItem struct {
	Name     string   `json:"name"`
	Brand    string   `json:"brand"`
	Calories *float64 `json:"calories"`
	Carbs    *float64 `json:"carbs"`
	Protein  *float64 `json:"protein"`
	Fat      *float64 `json:"fat"`
}

// LibraryEntry is a NutritionItem saved to the on-device library.
type LibraryEntry struct {
	ID int64 `json:"id"`
	NutritionItem
	SavedAt time.Time `json:"savedAt,omitempty"`
}

// Key returns the library row ID.
func (e LibraryEntry) Key() int64 { return e.ID }

// Credentials is the login payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the account-creation payload; ID is the email address.
type Registration struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Profile is the registration-completion payload.
type Profile struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"-"`
	Height   float64 `json:"height"`
	Weight   float64 `json:"weight"`
	Sex      string  `json:"sex"`
	Goal     string  `json:"description"`
}

// PasswordReset is the canonical change-password payload.
type PasswordReset struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

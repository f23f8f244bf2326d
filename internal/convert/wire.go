// Package convert decodes backend payloads into domain types and encodes
// drafts into request bodies. Decoding is strict: a malformed record is
// reported with its index and field instead of being defaulted.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
)

// --- lists (server -> client) ---

// DecodePosts decodes a getPosts response.
func DecodePosts(data []byte) ([]model.Post, error) {
	return decodeList(data, postFrom)
}

// DecodePost decodes a single created post.
func DecodePost(data []byte) (model.Post, error) {
	r, err := object(data, -1)
	if err != nil {
		return model.Post{}, err
	}
	return postFrom(r)
}

// DecodeComments decodes a getComments response.
func DecodeComments(data []byte) ([]model.Comment, error) {
	return decodeList(data, commentFrom)
}

// DecodeComment decodes a single created comment.
func DecodeComment(data []byte) (model.Comment, error) {
	r, err := object(data, -1)
	if err != nil {
		return model.Comment{}, err
	}
	return commentFrom(r)
}

// DecodeIdentity decodes a login or signup echo. The id may arrive as a
// string or an integer; height and weight as numbers or numeric strings.
func DecodeIdentity(data []byte) (model.Identity, error) {
	r, err := object(data, -1)
	if err != nil {
		return model.Identity{}, err
	}
	var id model.Identity
	if id.ID, err = r.idString("id"); err != nil {
		return model.Identity{}, err
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"name", &id.Name},
		{"username", &id.Username},
		{"sex", &id.Sex},
		{"description", &id.Goal},
		{"token", &id.AccessToken},
	} {
		if *f.dst, err = r.str(f.name, false); err != nil {
			return model.Identity{}, err
		}
	}
	if id.Height, err = r.float("height"); err != nil {
		return model.Identity{}, err
	}
	if id.Weight, err = r.float("weight"); err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

// DecodeLibrary decodes the stored library array. Records written before ids
// existed decode with ID 0; nutrients may be numbers or numeric strings.
func DecodeLibrary(data []byte) ([]model.LibraryEntry, error) {
	return decodeList(data, libraryFrom)
}

// ErrorMessage extracts {"message": "..."} from an error body, if present.
func ErrorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	return strings.TrimSpace(body.Message)
}

// --- drafts (client -> server) ---

// PostDraft is the makePost body. Comments is a legacy counter the backend
// still expects.
type PostDraft struct {
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
	Likes    int    `json:"likes"`
	Comments int    `json:"comments"`
}

// ToPostDraft builds the makePost body for p.
func ToPostDraft(p model.Post) PostDraft {
	return PostDraft{AuthorID: p.AuthorID, Content: p.Content, Likes: p.Likes}
}

// CommentDraft is the create-comment body.
type CommentDraft struct {
	PostID   int64  `json:"postId"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
	Likes    int    `json:"likes"`
}

// ToCommentDraft builds the create-comment body for c.
func ToCommentDraft(c model.Comment) CommentDraft {
	return CommentDraft{PostID: c.PostID, AuthorID: c.AuthorID, Content: c.Content, Likes: c.Likes}
}

// --- helpers ---

func postFrom(r record) (model.Post, error) {
	var (
		p   model.Post
		err error
	)
	if p.ID, err = r.id("id"); err != nil {
		return model.Post{}, err
	}
	if p.AuthorID, err = r.str("authorId", true); err != nil {
		return model.Post{}, err
	}
	if p.Content, err = r.str("content", false); err != nil {
		return model.Post{}, err
	}
	if p.Likes, err = r.count("likes"); err != nil {
		return model.Post{}, err
	}
	return p, nil
}

func commentFrom(r record) (model.Comment, error) {
	var (
		c   model.Comment
		err error
	)
	if c.ID, err = r.id("id"); err != nil {
		return model.Comment{}, err
	}
	if c.PostID, err = r.id("postId"); err != nil {
		return model.Comment{}, err
	}
	if c.AuthorID, err = r.str("authorId", true); err != nil {
		return model.Comment{}, err
	}
	if c.Content, err = r.str("content", false); err != nil {
		return model.Comment{}, err
	}
	if c.Likes, err = r.count("likes"); err != nil {
		return model.Comment{}, err
	}
	return c, nil
}

func libraryFrom(r record) (model.LibraryEntry, error) {
	var (
		e   model.LibraryEntry
		err error
		id  int
	)
	if id, err = r.count("id"); err != nil {
		return model.LibraryEntry{}, err
	}
	e.ID = int64(id)
	if e.Name, err = r.str("name", false); err != nil {
		return model.LibraryEntry{}, err
	}
	if e.Brand, err = r.str("brand", false); err != nil {
		return model.LibraryEntry{}, err
	}
	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"calories", &e.Calories},
		{"carbs", &e.Carbs},
		{"protein", &e.Protein},
		{"fat", &e.Fat},
	} {
		if *f.dst, err = r.float(f.name); err != nil {
			return model.LibraryEntry{}, err
		}
	}
	saved, err := r.str("savedAt", false)
	if err != nil {
		return model.LibraryEntry{}, err
	}
	if saved != "" {
		if e.SavedAt, err = time.Parse(time.RFC3339Nano, saved); err != nil {
			return model.LibraryEntry{}, r.fail("savedAt", "not RFC 3339: %q", saved)
		}
	}
	return e, nil
}

func decodeList[T any](data []byte, from func(record) (T, error)) ([]T, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &errs.DecodeError{Index: -1, Field: "", Reason: "expected a JSON array"}
	}
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		r, err := object(raw, i)
		if err != nil {
			return nil, err
		}
		v, err := from(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// record is one JSON object with its position in the enclosing list.
type record struct {
	idx    int
	fields map[string]json.RawMessage
}

func object(data []byte, idx int) (record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return record{}, &errs.DecodeError{Index: idx, Reason: "expected a JSON object"}
	}
	return record{idx: idx, fields: fields}, nil
}

func (r record) fail(field, format string, args ...any) error {
	return &errs.DecodeError{Index: r.idx, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// lookup returns the raw value, or nil for absent and null.
func (r record) lookup(name string) json.RawMessage {
	raw, ok := r.fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return bytes.TrimSpace(raw)
}

// id reads a required positive integer.
func (r record) id(name string) (int64, error) {
	raw := r.lookup(name)
	if raw == nil {
		return 0, r.fail(name, "missing")
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, r.fail(name, "not an integer: %s", raw)
	}
	if n <= 0 {
		return 0, r.fail(name, "must be positive, got %d", n)
	}
	return n, nil
}

// idString reads a required non-empty string or integer id.
func (r record) idString(name string) (string, error) {
	raw := r.lookup(name)
	if raw == nil {
		return "", r.fail(name, "missing")
	}
	if raw[0] != '"' {
		if _, err := strconv.ParseInt(string(raw), 10, 64); err != nil {
			return "", r.fail(name, "want string or integer, got %s", raw)
		}
		return string(raw), nil
	}
	return r.str(name, true)
}

// count reads an optional non-negative integer; absent means zero.
func (r record) count(name string) (int, error) {
	raw := r.lookup(name)
	if raw == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, r.fail(name, "not an integer: %s", raw)
	}
	if n < 0 {
		return 0, r.fail(name, "must not be negative, got %d", n)
	}
	return n, nil
}

func (r record) str(name string, required bool) (string, error) {
	raw := r.lookup(name)
	if raw == nil {
		if required {
			return "", r.fail(name, "missing")
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", r.fail(name, "want string, got %s", raw)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", r.fail(name, "empty")
	}
	return s, nil
}

// float reads an optional number, accepting numeric strings.
func (r record) float(name string) (*float64, error) {
	raw := r.lookup(name)
	if raw == nil {
		return nil, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, r.fail(name, "want number, got %s", raw)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, r.fail(name, "want number, got %s", raw)
	}
	return &v, nil
}

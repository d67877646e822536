package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Emoji is the structured icon picked for a page.
type Emoji struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Native     string `json:"native"`
	Shortcodes string `json:"shortcodes"`
	Unified    string `json:"unified"`
}

// Value stores the emoji as jsonb.
func (e Emoji) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the jsonb column back.
func (e *Emoji) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("unsupported emoji column type %T", src)
	}
}

// Page is a full row of the pages table.
// A page with IsPublic and LinkedTo set is a public copy whose content is read
// from the linked page.
type Page struct {
	ID          string    `json:"id" gorm:"type:char(27);primaryKey"`
	UserID      string    `json:"user_id" gorm:"type:varchar(36);not null;index"`
	Title       string    `json:"title" gorm:"type:text;not null;default:'untitled'"`
	Content     string    `json:"content" gorm:"type:text;not null;default:''"`
	Description string    `json:"description" gorm:"type:text;not null;default:''"`
	Emoji       *Emoji    `json:"emoji" gorm:"type:jsonb"`
	ImageURL    *string   `json:"image_url" gorm:"type:text"`
	ParentID    *string   `json:"parent_id" gorm:"type:char(27);index"`
	LinkedTo    *string   `json:"linked_to" gorm:"type:char(27)"`
	IsLocked    bool      `json:"is_locked" gorm:"not null;default:false"`
	IsPublic    bool      `json:"is_public" gorm:"not null;default:false;index"`
	IsDeleted   *bool     `json:"is_deleted" gorm:"index"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (p *Page) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Page) TableName() string {
	return "pages"
}

// Node projects the row onto its sidebar tree entry.
func (p *Page) Node() Node {
	return Node{
		ID:        p.ID,
		Title:     p.Title,
		Emoji:     p.Emoji,
		ParentID:  p.ParentID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		IsLocked:  p.IsLocked,
		IsPublic:  p.IsPublic,
		IsDeleted: p.IsDeleted,
	}
}

// Linked reports whether the page is a read-only public copy of another page.
func (p *Page) Linked() bool {
	return p.IsPublic && p.LinkedTo != nil && *p.LinkedTo != ""
}

// Node is the lightweight tree entry kept in a forest map.
type Node struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Emoji     *Emoji    `json:"emoji"`
	ParentID  *string   `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsLocked  bool      `json:"is_locked"`
	IsPublic  bool      `json:"is_public"`
	IsDeleted *bool     `json:"is_deleted,omitempty"`
}

// Deleted treats a nil flag as "never deleted".
func (n Node) Deleted() bool {
	return n.IsDeleted != nil && *n.IsDeleted
}

// HasParent reports whether the node hangs under parentID.
func (n Node) HasParent(parentID string) bool {
	return n.ParentID != nil && *n.ParentID == parentID
}

// Forest selects one of the two sidebar trees.
type Forest string

const (
	ForestPersonal Forest = "personal" // is_public = false
	ForestPublic   Forest = "public"   // is_public = true
)

// ForestOf maps the is_public flag to its forest.
func ForestOf(isPublic bool) Forest {
	if isPublic {
		return ForestPublic
	}
	return ForestPersonal
}

// IsPublic is the is_public predicate used to populate the forest.
func (f Forest) IsPublic() bool {
	return f == ForestPublic
}

// ParseForest accepts "personal" and "public"; anything else is personal.
func ParseForest(s string) Forest {
	if s == string(ForestPublic) {
		return ForestPublic
	}
	return ForestPersonal
}

// TrashEntry is a soft-deleted page as listed in the trash.
type TrashEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Emoji     *Emoji    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDeleted *bool     `json:"is_deleted"`
}

// Editable page columns accepted in a document patch.
const (
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldDescription = "description"
	FieldEmoji       = "emoji"
	FieldImageURL    = "image_url"
)

// DocPatch is a partial update of the open document, keyed by column name.
type DocPatch map[string]any

// Clone returns a shallow copy.
func (p DocPatch) Clone() DocPatch {
	out := make(DocPatch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ApplyTo writes the patched fields onto page. Unknown keys are ignored.
func (p DocPatch) ApplyTo(page *Page) {
	for k, v := range p {
		switch k {
		case FieldTitle:
			if s, ok := v.(string); ok {
				page.Title = s
			}
		case FieldContent:
			if s, ok := v.(string); ok {
				page.Content = s
			}
		case FieldDescription:
			if s, ok := v.(string); ok {
				page.Description = s
			}
		case FieldEmoji:
			switch e := v.(type) {
			case *Emoji:
				page.Emoji = e
			case Emoji:
				page.Emoji = &e
			case nil:
				page.Emoji = nil
			}
		case FieldImageURL:
			switch u := v.(type) {
			case string:
				page.ImageURL = &u
			case *string:
				page.ImageURL = u
			case nil:
				page.ImageURL = nil
			}
		}
	}
}

// Columns converts the patch into a gorm update map, dropping unknown keys.
func (p DocPatch) Columns() map[string]any {
	cols := make(map[string]any, len(p))
	for k, v := range p {
		switch k {
		case FieldTitle, FieldContent, FieldDescription, FieldImageURL, FieldEmoji:
			cols[k] = v
		}
	}
	return cols
}

// SaveStatus is the outcome of the latest document write.
type SaveStatus string

const (
	SaveNone    SaveStatus = "none"
	SaveStart   SaveStatus = "start"
	SaveSuccess SaveStatus = "success"
	SaveFailed  SaveStatus = "failed"
)

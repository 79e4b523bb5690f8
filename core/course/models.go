package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

// Statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type (
	// Item is a single consumable unit of content within a Module.
	Item struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Type     string `json:"type"` // video | article | quiz | assignment
		Duration int    `json:"duration"` // minutes
	}

	Module struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Items []Item `json:"items"`
	}

	Course struct {
		ID              string    `json:"id"`
		Title           string    `json:"title"`
		Slug            string    `json:"slug"`
		TeacherID       string    `json:"teacher_id"`
		Status          string    `json:"status"`
		Price           float64   `json:"price"`
		Modules         []Module  `json:"modules"`
		EnrollmentCount int       `json:"enrollment_count"`
		RatingAverage   float64   `json:"rating_average"`
		RatingCount     int       `json:"rating_count"`
		CreatedAt       time.Time `json:"created_at"` // UTC
		UpdatedAt       time.Time `json:"updated_at"` // UTC
	}
)

func (c *Course) IsPublished() bool {
	return c.Status == StatusPublished
}

func (c *Course) IsFree() bool {
	return c.Price == 0
}

// TotalItems counts the content items across all modules.
func (c *Course) TotalItems() int {
	var n int
	for _, mod := range c.Modules {
		n += len(mod.Items)
	}
	return n
}

// Item finds a content item by ID across all modules.
func (c *Course) Item(itemID string) (Item, bool) {
	for _, mod := range c.Modules {
		for _, item := range mod.Items {
			if item.ID == itemID {
				return item, true
			}
		}
	}
	return Item{}, false
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title     string   `json:"title" validate:"required"`
	Slug      string   `json:"slug" validate:"omitempty,max=100"`
	TeacherID string   `json:"teacher_id" validate:"required,uuid4"`
	Status    string   `json:"status" validate:"omitempty,oneof=draft published archived"`
	Price     float64  `json:"price" validate:"gte=0"`
	Modules   []Module `json:"modules"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Slug = core.CleanString(nc.Slug, true /* lower */)
	return validate.Struct(nc)
}

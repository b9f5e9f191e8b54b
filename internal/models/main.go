// Package models defines the records exchanged with the projects backend:
// users, projects and their images.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// User represents an authenticated back-office user.
type User struct {
	// ID is the backend identifier of the user.
	ID int64 `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Email is the login e-mail.
	Email string `json:"email"`
	// Role grants access to parts of the back-office ("admin", "editor", ...).
	Role string `json:"role"`
}

// Credentials is the login form payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Dimensions holds the pixel size of an image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UnmarshalJSON accepts both {"width":W,"height":H} and "WxH".
func (d *Dimensions) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if _, err := fmt.Sscanf(strings.ToLower(s), "%dx%d", &d.Width, &d.Height); err != nil {
			return fmt.Errorf("dimensions %q: %w", s, err)
		}
		return nil
	}
	type plain Dimensions
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = Dimensions(p)
	return nil
}

// String renders the dimensions as "WxH", or "" when unknown.
func (d Dimensions) String() string {
	if d.Width == 0 && d.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Image is a persisted project image.
type Image struct {
	ID        int64 `json:"id"`
	ProjectID int64 `json:"project_id"`
	// Path is relative to the storage origin.
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	// URL is absolute when the backend knows the public location.
	URL           string     `json:"url,omitempty"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	ThumbnailURL  string     `json:"thumbnail_url,omitempty"`
	IsMain        bool       `json:"is_main"`
	OriginalName  string     `json:"original_name,omitempty"`
	Size          int64      `json:"size,omitempty"`
	Dimensions    Dimensions `json:"dimensions"`
	Description   string     `json:"description,omitempty"`
	DisplayOrder  int        `json:"display_order"`
}

// ProjectStatus is the lifecycle stage of a construction project.
type ProjectStatus string

const (
	// StatusPlanned marks a project that has not started.
	StatusPlanned ProjectStatus = "planned"
	// StatusInProgress marks a project under construction.
	StatusInProgress ProjectStatus = "in_progress"
	// StatusCompleted marks a delivered project.
	StatusCompleted ProjectStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Label is the human-readable status.
func (s ProjectStatus) Label() string {
	switch s {
	case StatusPlanned:
		return "Planned"
	case StatusInProgress:
		return "In progress"
	case StatusCompleted:
		return "Completed"
	}
	return string(s)
}

// Project is a construction project shown on the public site.
type Project struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Slug        string        `json:"slug,omitempty"`
	Description string        `json:"description,omitempty"`
	Client      string        `json:"client,omitempty"`
	Location    string        `json:"location,omitempty"`
	Category    string        `json:"category,omitempty"`
	Status      ProjectStatus `json:"status,omitempty"`
	Budget      float64       `json:"budget,omitempty"`
	// StartDate and EndDate use the backend's YYYY-MM-DD format.
	StartDate  string    `json:"start_date,omitempty"`
	EndDate    string    `json:"end_date,omitempty"`
	IsActive   bool      `json:"is_active"`
	IsFeatured bool      `json:"is_featured"`
	MainImage  *Image    `json:"main_image,omitempty"`
	Images     []Image   `json:"images,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// ProjectInput is the payload for creating or updating a project.
type ProjectInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Client      string        `json:"client,omitempty"`
	Location    string        `json:"location,omitempty"`
	Category    string        `json:"category,omitempty"`
	Status      ProjectStatus `json:"status,omitempty"`
	Budget      float64       `json:"budget,omitempty"`
	StartDate   string        `json:"start_date,omitempty"`
	EndDate     string        `json:"end_date,omitempty"`
	IsActive    bool          `json:"is_active"`
	IsFeatured  bool          `json:"is_featured"`
}

// ProjectFilter narrows a project listing. Zero values are not sent.
type ProjectFilter struct {
	Search  string
	Status  ProjectStatus
	Active  *bool
	Page    int
	PerPage int
}

// Pagination describes one page of a listing.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// ProjectPage is one page of projects.
type ProjectPage struct {
	Projects   []Project  `json:"projects"`
	Pagination Pagination `json:"pagination"`
}

// DateLayout is the wire format of project dates.
const DateLayout = "2006-01-02"

// Validate checks the input the same way the backend does and returns the
// failing fields, or nil.
func (in ProjectInput) Validate() map[string][]string {
	errs := map[string][]string{}
	add := func(field, msg string) { errs[field] = append(errs[field], msg) }

	if strings.TrimSpace(in.Name) == "" {
		add("name", "The name field is required.")
	} else if len(in.Name) > 255 {
		add("name", "The name may not be greater than 255 characters.")
	}
	if in.Status != "" && !in.Status.Valid() {
		add("status", "The selected status is invalid.")
	}
	if in.Budget < 0 {
		add("budget", "The budget must be at least 0.")
	}

	var start, end time.Time
	if in.StartDate != "" {
		t, err := time.Parse(DateLayout, in.StartDate)
		if err != nil {
			add("start_date", "The start date is not a valid date.")
		}
		start = t
	}
	if in.EndDate != "" {
		t, err := time.Parse(DateLayout, in.EndDate)
		if err != nil {
			add("end_date", "The end date is not a valid date.")
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		add("end_date", "The end date must be a date after or equal to start date.")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Input returns the editable fields of p.
func (p Project) Input() ProjectInput {
	return ProjectInput{
		Name:        p.Name,
		Description: p.Description,
		Client:      p.Client,
		Location:    p.Location,
		Category:    p.Category,
		Status:      p.Status,
		Budget:      p.Budget,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		IsActive:    p.IsActive,
		IsFeatured:  p.IsFeatured,
	}
}

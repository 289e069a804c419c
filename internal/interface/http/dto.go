package http

import (
	"strings"
	"time"

	"github.com/nohelyvillegas/micro-cursos/internal/application/catalog"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// JSON field names follow the existing frontend contract.

// ══════════════════════════════════════════════════════════════════════════════
// COURSES
// ══════════════════════════════════════════════════════════════════════════════

// CourseRequest is the body of POST and PUT /api/cursos.
type CourseRequest struct {
	Name        string `json:"nombre"`
	Description string `json:"descripcion"`
	Credits     int    `json:"creditos"`
	Version     int64  `json:"version,omitempty"`
}

func (r CourseRequest) toInput() catalog.CourseInput {
	return catalog.CourseInput{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Credits:     r.Credits,
		Version:     r.Version,
	}
}

// MembershipResponse is one course member reference.
type MembershipResponse struct {
	UserID int64 `json:"usuarioId"`
}

// CourseResponse is a course as returned by the API.
type CourseResponse struct {
	ID          int64                `json:"id"`
	Name        string               `json:"nombre"`
	Description string               `json:"descripcion"`
	Credits     int                  `json:"creditos"`
	Memberships []MembershipResponse `json:"cursoUsuarios"`
	Version     int64                `json:"version"`
	CreatedAt   time.Time            `json:"creadoEn"`
	UpdatedAt   time.Time            `json:"actualizadoEn"`
}

func newCourseResponse(c *course.Course) CourseResponse {
	resp := CourseResponse{
		ID:          int64(c.ID),
		Name:        c.Name,
		Description: c.Description,
		Credits:     c.Credits,
		Memberships: make([]MembershipResponse, 0, c.MemberCount()),
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for id := range c.MembershipUserIDs() {
		resp.Memberships = append(resp.Memberships, MembershipResponse{UserID: int64(id)})
	}
	return resp
}

func newCourseResponses(courses []*course.Course) []CourseResponse {
	out := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		out = append(out, newCourseResponse(c))
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

const dateLayout = "2006-01-02"

// MembershipRequest is the body of POST /api/cursos/{id}. Only the user ID is
// read; other user fields sent by clients are ignored.
type MembershipRequest struct {
	UserID int64 `json:"id"`
}

// UserRequest is the body of POST /api/cursos/usuarios.
type UserRequest struct {
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Email     string `json:"email"`
	Phone     string `json:"telefono"`
	BirthDate string `json:"fechaNacimiento,omitempty"`
}

func (r UserRequest) toNewUser() (user.NewUser, error) {
	nu := user.NewUser{
		FirstName: strings.TrimSpace(r.FirstName),
		LastName:  strings.TrimSpace(r.LastName),
		Email:     strings.TrimSpace(r.Email),
		Phone:     strings.TrimSpace(r.Phone),
	}
	if nu.FirstName == "" || nu.Email == "" {
		return user.NewUser{}, shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, "nombre and email are required")
	}
	if r.BirthDate != "" {
		t, err := time.Parse(dateLayout, r.BirthDate)
		if err != nil {
			return user.NewUser{}, shared.WrapError("user", "Validate", shared.ErrInvalidInput, "fechaNacimiento must be YYYY-MM-DD", err)
		}
		nu.BirthDate = &t
	}
	return nu, nil
}

// UserResponse is a remote user as returned by the API.
type UserResponse struct {
	ID        int64      `json:"id"`
	FirstName string     `json:"nombre"`
	LastName  string     `json:"apellido"`
	Email     string     `json:"email"`
	Phone     string     `json:"telefono"`
	BirthDate string     `json:"fechaNacimiento,omitempty"`
	CreatedAt *time.Time `json:"creadoEn,omitempty"`
}

func newUserResponse(u *user.User) UserResponse {
	resp := UserResponse{
		ID:        int64(u.ID),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
	}
	if u.BirthDate != nil {
		resp.BirthDate = u.BirthDate.Format(dateLayout)
	}
	if !u.CreatedAt.IsZero() {
		t := u.CreatedAt
		resp.CreatedAt = &t
	}
	return resp
}

func newUserResponses(users []*user.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	return out
}

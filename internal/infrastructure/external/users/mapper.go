package users

import (
	"errors"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// ErrNilDTO is returned when mapping a nil DTO.
var ErrNilDTO = errors.New("nil dto")

// UserFromDTO converts a service DTO into the domain projection.
func UserFromDTO(dto *UserDTO) (*user.User, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}

	u := &user.User{
		ID:        user.ID(dto.ID),
		FirstName: dto.FirstName,
		LastName:  dto.LastName,
		Email:     dto.Email,
		Phone:     dto.Phone,
	}
	if dto.BirthDate != nil && !dto.BirthDate.IsZero() {
		t := dto.BirthDate.Time
		u.BirthDate = &t
	}
	if dto.CreatedAt != nil {
		u.CreatedAt = dto.CreatedAt.Time
	}
	return u, nil
}

// DTOFromNewUser builds the create payload.
func DTOFromNewUser(nu user.NewUser) *UserDTO {
	dto := &UserDTO{
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Email:     nu.Email,
		Phone:     nu.Phone,
	}
	if nu.BirthDate != nil {
		dto.BirthDate = &LocalDate{Time: *nu.BirthDate}
	}
	return dto
}

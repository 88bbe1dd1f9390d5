package model

type Patient struct {
	Base
	FullName    string `json:"full_name" db:"full_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
}

type CreatePatientRequest struct {
	FullName    string `json:"full_name" binding:"required,min=4,max=100"`
	PhoneNumber string `json:"phone_number" binding:"required,len=11,numeric"`
}

type UpdatePatientRequest struct {
	FullName    *string `json:"full_name" binding:"omitempty,min=4,max=100"`
	PhoneNumber *string `json:"phone_number" binding:"omitempty,len=11,numeric"`
}

type PatientFilters struct {
	Name  string `form:"name"`
	Phone string `form:"phone"`
	Limit int    `form:"limit"`
}

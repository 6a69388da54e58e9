// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrAccessDenied — ресурс принадлежит другому пользователю.
	ErrAccessDenied = errors.New("доступ запрещён")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNoORCID — у пользователя нет привязанного ORCID.
	ErrNoORCID = errors.New("к учётной записи не привязан ORCID")
	// ErrScienceDataUnavailable — ScienceData недоступен или вернул ошибку.
	ErrScienceDataUnavailable = errors.New("ScienceData недоступен")
	// ErrInvalidTransition — недопустимый переход статуса релиза.
	ErrInvalidTransition = errors.New("недопустимый переход статуса релиза")
)

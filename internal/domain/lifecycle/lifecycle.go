// Пакет lifecycle — конечный автомат статусов релиза ScienceData.
//
// Жизненный цикл релиза:
//   - R (received) → P (processing)
//   - P → D (published) или F (failed)
//   - F → P — повторная обработка
//   - из любого статуса, кроме D, допустим переход в E (deleted)
//
// D и E — конечные статусы.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.ReleaseStatus]map[model.ReleaseStatus]bool{
	model.ReleaseReceived:   {model.ReleaseProcessing: true, model.ReleaseDeleted: true},
	model.ReleaseProcessing: {model.ReleasePublished: true, model.ReleaseFailed: true, model.ReleaseDeleted: true},
	model.ReleaseFailed:     {model.ReleaseProcessing: true, model.ReleaseDeleted: true},
	model.ReleasePublished:  {}, // Конечный статус
	model.ReleaseDeleted:    {}, // Конечный статус
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, INVALID_STATUS)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValid проверяет, является ли статус допустимым.
func IsValid(s model.ReleaseStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// ParseStatus преобразует строку (код или название) в ReleaseStatus.
func ParseStatus(s string) (model.ReleaseStatus, error) {
	for st := range validTransitions {
		if string(st) == s || st.Title() == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("недопустимый статус релиза: %q", s)
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.ReleaseStatus) bool {
	return validTransitions[from][to]
}

// IsFinal сообщает, является ли статус конечным.
func IsFinal(s model.ReleaseStatus) bool {
	t, ok := validTransitions[s]
	return ok && len(t) == 0
}

// Transition переводит релиз в статус target и обновляет UpdatedAt.
// При переходе в F сохраняет сообщение об ошибке в Errors,
// при переходе в P и D очищает Errors.
func Transition(r *model.Release, target model.ReleaseStatus, errMsg string) error {
	if !IsValid(target) {
		return &TransitionError{
			Code:    "INVALID_STATUS",
			Message: fmt.Sprintf("недопустимый целевой статус: %q", target),
		}
	}
	if !CanTransition(r.Status, target) {
		return &TransitionError{
			Code: "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим",
				r.Status.Title(), target.Title()),
		}
	}

	switch target {
	case model.ReleaseFailed:
		r.Errors = ErrorsJSON(errMsg)
	case model.ReleaseProcessing, model.ReleasePublished:
		r.Errors = nil
	}
	r.Status = target
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ErrorsJSON формирует документ ошибки релиза {"errors": msg}.
func ErrorsJSON(msg string) json.RawMessage {
	data, err := json.Marshal(map[string]string{"errors": msg})
	if err != nil {
		return nil
	}
	return data
}

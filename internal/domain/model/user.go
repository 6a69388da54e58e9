package model

// Principal — аутентифицированный пользователь запроса.
// Формируется из claims JWT, в БД не хранится.
type Principal struct {
	// ID — sub из JWT, локальный идентификатор пользователя
	ID string
	// Username — preferred_username
	Username string
	Email    string
	// ORCID — идентификатор ORCID из claim (пусто, если не привязан)
	ORCID string
	// RemoteIP — адрес клиента для пакета поступления
	RemoteIP string
}

// HasORCID сообщает, привязан ли к пользователю ORCID.
func (p *Principal) HasORCID() bool {
	return p != nil && p.ORCID != ""
}

package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Creator — автор записи.
type Creator struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// RelatedIdentifier — связанный идентификатор (например, isSupplementTo).
type RelatedIdentifier struct {
	Identifier string `json:"identifier"`
	Relation   string `json:"relation"`
	Scheme     string `json:"scheme,omitempty"`
}

// OAIInfo — служебный блок OAI-PMH.
type OAIInfo struct {
	ID string `json:"id"`
}

// DepositInfo — служебный блок _deposit (владельцы, статус, PID депозита).
type DepositInfo struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	CreatedBy string      `json:"created_by,omitempty"`
	Owners    []string    `json:"owners,omitempty"`
	PID       *DepositPID `json:"pid,omitempty"`
}

// DepositPID — ссылка на опубликованный PID из _deposit.
type DepositPID struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RecordMetadata — JSON-документ записи или депозита.
// Известные поля типизированы, остальные сохраняются в Extra без потерь.
type RecordMetadata struct {
	// Recid — номер версии записи (0 — не задан)
	Recid int64 `json:"recid,omitempty"`
	// ConceptRecid — номер логической работы, общий для всех версий (0 — не задан)
	ConceptRecid int64  `json:"conceptrecid,omitempty"`
	DOI          string `json:"doi,omitempty"`
	ConceptDOI   string `json:"conceptdoi,omitempty"`

	Title              string              `json:"title,omitempty"`
	Description        string              `json:"description,omitempty"`
	Version            string              `json:"version,omitempty"`
	PublicationDate    string              `json:"publication_date,omitempty"`
	UploadType         string              `json:"upload_type,omitempty"`
	AccessRight        string              `json:"access_right,omitempty"`
	License            string              `json:"license,omitempty"`
	Creators           []Creator           `json:"creators,omitempty"`
	Communities        []string            `json:"communities,omitempty"`
	Keywords           []string            `json:"keywords,omitempty"`
	RelatedIdentifiers []RelatedIdentifier `json:"related_identifiers,omitempty"`

	OAI     *OAIInfo     `json:"_oai,omitempty"`
	Deposit *DepositInfo `json:"_deposit,omitempty"`

	// Extra — поля, не описанные выше (например, из метаданных ScienceData)
	Extra map[string]json.RawMessage `json:"-"`
}

// knownKeys — ключи JSON, разбираемые в типизированные поля.
var knownKeys = map[string]bool{
	"recid": true, "conceptrecid": true, "doi": true, "conceptdoi": true,
	"title": true, "description": true, "version": true, "publication_date": true,
	"upload_type": true, "access_right": true, "license": true, "creators": true,
	"communities": true, "keywords": true, "related_identifiers": true,
	"_oai": true, "_deposit": true,
}

// recordMetadataAlias — тип без методов для стандартной сериализации.
type recordMetadataAlias RecordMetadata

// MarshalJSON сериализует типизированные поля и Extra в один объект.
func (m RecordMetadata) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(recordMetadataAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+16)
	for k, v := range m.Extra {
		if !knownKeys[k] {
			merged[k] = v
		}
	}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON накладывает документ поверх текущих значений:
// присутствующие ключи перезаписываются, отсутствующие сохраняются.
// Такое поведение используется для слияния метаданных.
// recid и conceptrecid принимаются и числом, и строкой.
func (m *RecordMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range []string{"recid", "conceptrecid"} {
		if v, ok := raw[key]; ok {
			n, err := parseIntField(v)
			if err != nil {
				return fmt.Errorf("поле %s: %w", key, err)
			}
			raw[key] = json.RawMessage(strconv.FormatInt(n, 10))
		}
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(normalized, (*recordMetadataAlias)(m)); err != nil {
		return err
	}
	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
	return nil
}

// parseIntField разбирает целое из JSON-числа или JSON-строки.
func parseIntField(v json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, fmt.Errorf("ожидается целое число: %s", string(v))
	}
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ожидается целое число: %q", s)
	}
	return n, nil
}

// Clone возвращает глубокую копию метаданных.
func (m RecordMetadata) Clone() RecordMetadata {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out RecordMetadata
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

// Record — опубликованная запись (таблица records_metadata).
type Record struct {
	ID        uuid.UUID
	Metadata  RecordMetadata
	VersionID int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// release_metadata.go — метаданные и файлы записи, публикуемой из релиза.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

const noDescription = "No description provided."

// protectedKeys — ключи, которые метаданные ScienceData не могут
// перезаписать: их выпускает и ведёт репозиторий.
var protectedKeys = []string{"recid", "conceptrecid", "doi", "conceptdoi", "_oai", "_deposit"}

// releaseFile — файл для загрузки в депозит.
type releaseFile struct {
	Key string
	URL string
}

// releaseDescription — тело релиза в HTML, иначе описание объекта.
func releaseDescription(obj *model.ScienceDataObject, rel *model.Release) (string, error) {
	if strings.TrimSpace(rel.Body) != "" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(rel.Body), &buf); err != nil {
			return "", fmt.Errorf("ошибка преобразования описания релиза: %w", err)
		}
		return strings.TrimSpace(buf.String()), nil
	}
	if obj.Description != "" {
		return obj.Description, nil
	}
	return noDescription, nil
}

// defaultMetadata формирует метаданные записи по умолчанию.
// publicURL — публичный адрес ScienceData для ссылки isSupplementTo.
func defaultMetadata(obj *model.ScienceDataObject, rel *model.Release, author *model.Principal, publicURL string) (model.RecordMetadata, error) {
	desc, err := releaseDescription(obj, rel)
	if err != nil {
		return model.RecordMetadata{}, err
	}

	md := model.RecordMetadata{
		AccessRight:     "open",
		Description:     desc,
		License:         "other-open",
		PublicationDate: rel.CreatedAt.UTC().Format("2006-01-02"),
		RelatedIdentifiers: []model.RelatedIdentifier{{
			Identifier: publicURL + "/files" + obj.Path,
			Relation:   "isSupplementTo",
			Scheme:     "url",
		}},
		Version:    rel.Version,
		Title:      fmt.Sprintf("%s: %s", obj.Name, rel.Version),
		UploadType: "dataset",
	}
	if author != nil {
		name := author.Username
		if name == "" {
			name = author.ORCID
		}
		if name != "" {
			md.Creators = []model.Creator{{Name: name, ORCID: author.ORCID}}
		}
	}
	return md, nil
}

// overlayMetadata накладывает метаданные ScienceData поверх md.
// Служебные ключи репозитория игнорируются.
func overlayMetadata(md *model.RecordMetadata, remote map[string]json.RawMessage) error {
	if len(remote) == 0 {
		return nil
	}
	filtered := make(map[string]json.RawMessage, len(remote))
	for k, v := range remote {
		filtered[k] = v
	}
	for _, k := range protectedKeys {
		delete(filtered, k)
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Errorf("%w: метаданные ScienceData: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	if err := md.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: метаданные ScienceData: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	return nil
}

// releaseFileName — имя файла версии: каталог публикуется архивом.
func releaseFileName(obj *model.ScienceDataObject, version string) string {
	if obj.Kind == model.KindDir {
		return fmt.Sprintf("%s-%s.zip", obj.Name, version)
	}
	return fmt.Sprintf("%s-%s", obj.Name, version)
}

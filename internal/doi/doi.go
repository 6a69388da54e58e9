// Пакет doi — генерация и классификация DOI записей.
//
// Канонический DOI записи имеет вид <prefix>/<suffix>.<recid>, где recid
// предварительно переназначается через таблицу исторических перенумераций.
// Все функции чистые и не обращаются к хранилищу.
package doi

import (
	"fmt"
	"regexp"
	"strings"
)

// doiPattern — синтаксис DOI: 10.<регистрант>[.<подкод>]*/<суффикс без пробелов>.
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}(\.\d+)*/\S+$`)

// Provider — генератор DOI с фиксированной конфигурацией.
// Безопасен для конкурентного использования: состояние только читается.
type Provider struct {
	prefix        string
	suffix        string
	localPrefixes []string
	remap         map[int64]int64
}

// NewProvider создаёт генератор DOI.
// prefix — основной префикс, suffix — суффикс перед номером записи,
// localPrefixes — дополнительные локально управляемые префиксы,
// remap — таблица переназначения recid (может быть nil).
func NewProvider(prefix, suffix string, localPrefixes []string, remap map[int64]int64) *Provider {
	table := make(map[int64]int64, len(remap))
	for k, v := range remap {
		table[k] = v
	}
	locals := make([]string, 0, len(localPrefixes)+1)
	locals = append(locals, prefix)
	for _, p := range localPrefixes {
		if p != "" && p != prefix {
			locals = append(locals, p)
		}
	}
	return &Provider{
		prefix:        prefix,
		suffix:        suffix,
		localPrefixes: locals,
		remap:         table,
	}
}

// Prefix возвращает основной DOI-префикс.
func (p *Provider) Prefix() string {
	return p.prefix
}

// Generate возвращает канонический DOI для recid с настроенными префиксом и суффиксом.
func (p *Provider) Generate(recid int64) string {
	return p.GenerateWith(recid, "", "")
}

// GenerateWith возвращает DOI для recid. Пустые prefix и suffix
// заменяются значениями из конфигурации.
func (p *Provider) GenerateWith(recid int64, prefix, suffix string) string {
	if mapped, ok := p.remap[recid]; ok {
		recid = mapped
	}
	if prefix == "" {
		prefix = p.prefix
	}
	if suffix == "" {
		suffix = p.suffix
	}
	return fmt.Sprintf("%s/%s.%d", prefix, suffix, recid)
}

// IsLocal сообщает, принадлежит ли DOI локально управляемым префиксам.
// Неизвестные префиксы считаются внешними.
func (p *Provider) IsLocal(doi string) bool {
	for _, prefix := range p.localPrefixes {
		if strings.HasPrefix(doi, prefix+"/") {
			return true
		}
	}
	return false
}

// IsCanonical сообщает, совпадает ли DOI с каноническим для recid.
func (p *Provider) IsCanonical(doi string, recid int64) bool {
	return doi == p.Generate(recid)
}

// IsDOI проверяет синтаксис DOI.
func IsDOI(s string) bool {
	return doiPattern.MatchString(s)
}

// Normalize убирает резолвер и схему (https://doi.org/, doi:) и пробелы.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			return s[len(prefix):]
		}
	}
	return s
}

// URL возвращает ссылку на резолвер doi.org.
func URL(doi string) string {
	return "https://doi.org/" + doi
}

package datacite

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bigkaa/sciencerepo/internal/doi"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

const (
	kernelNamespace = "http://datacite.org/schema/kernel-4"
	schemaLocation  = "http://datacite.org/schema/kernel-4 http://schema.datacite.org/meta/kernel-4/metadata.xsd"
)

// resource — корневой элемент схемы DataCite kernel-4.
type resource struct {
	XMLName            xml.Name            `xml:"resource"`
	Xmlns              string              `xml:"xmlns,attr"`
	XmlnsXSI           string              `xml:"xmlns:xsi,attr"`
	SchemaLocation     string              `xml:"xsi:schemaLocation,attr"`
	Identifier         identifier          `xml:"identifier"`
	Creators           []creator           `xml:"creators>creator"`
	Titles             []string            `xml:"titles>title"`
	Publisher          string              `xml:"publisher"`
	PublicationYear    int                 `xml:"publicationYear"`
	ResourceType       resourceType        `xml:"resourceType"`
	Subjects           []string            `xml:"subjects>subject,omitempty"`
	RelatedIdentifiers []relatedIdentifier `xml:"relatedIdentifiers>relatedIdentifier,omitempty"`
	Version            string              `xml:"version,omitempty"`
	Rights             []rights            `xml:"rightsList>rights,omitempty"`
	Descriptions       []description       `xml:"descriptions>description,omitempty"`
}

type identifier struct {
	Type  string `xml:"identifierType,attr"`
	Value string `xml:",chardata"`
}

type creator struct {
	Name           string          `xml:"creatorName"`
	NameIdentifier *nameIdentifier `xml:"nameIdentifier,omitempty"`
	Affiliation    string          `xml:"affiliation,omitempty"`
}

type nameIdentifier struct {
	Scheme    string `xml:"nameIdentifierScheme,attr"`
	SchemeURI string `xml:"schemeURI,attr"`
	Value     string `xml:",chardata"`
}

type resourceType struct {
	General string `xml:"resourceTypeGeneral,attr"`
	Value   string `xml:",chardata"`
}

type relatedIdentifier struct {
	Type     string `xml:"relatedIdentifierType,attr"`
	Relation string `xml:"relationType,attr"`
	Value    string `xml:",chardata"`
}

type rights struct {
	Value string `xml:",chardata"`
}

type description struct {
	Type  string `xml:"descriptionType,attr"`
	Value string `xml:",chardata"`
}

// resourceTypes — upload_type записи → resourceTypeGeneral.
var resourceTypes = map[string]string{
	"dataset":      "Dataset",
	"software":     "Software",
	"image":        "Image",
	"video":        "Audiovisual",
	"poster":       "Text",
	"presentation": "Text",
	"publication":  "Text",
	"lesson":       "Text",
}

// BuildXML формирует документ DataCite kernel-4 для DOI по метаданным записи.
// Для концептуального DOI добавляется связь HasVersion на DOI версии,
// для DOI версии — IsVersionOf на концептуальный DOI.
func BuildXML(doiValue, publisher string, md *model.RecordMetadata) ([]byte, error) {
	if doiValue == "" {
		return nil, fmt.Errorf("пустой DOI")
	}
	if md.Title == "" {
		return nil, fmt.Errorf("у записи %s нет заголовка", doiValue)
	}

	res := resource{
		Xmlns:           kernelNamespace,
		XmlnsXSI:        "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation:  schemaLocation,
		Identifier:      identifier{Type: "DOI", Value: doiValue},
		Titles:          []string{md.Title},
		Publisher:       publisher,
		PublicationYear: publicationYear(md.PublicationDate),
		Version:         md.Version,
		Subjects:        md.Keywords,
	}

	general, ok := resourceTypes[md.UploadType]
	if !ok {
		general = "Other"
	}
	res.ResourceType = resourceType{General: general, Value: md.UploadType}

	for _, c := range md.Creators {
		cr := creator{Name: c.Name, Affiliation: c.Affiliation}
		if c.ORCID != "" {
			cr.NameIdentifier = &nameIdentifier{Scheme: "ORCID", SchemeURI: "https://orcid.org/", Value: c.ORCID}
		}
		res.Creators = append(res.Creators, cr)
	}
	if len(res.Creators) == 0 {
		res.Creators = []creator{{Name: publisher}}
	}

	if md.License != "" {
		res.Rights = append(res.Rights, rights{Value: md.License})
	}
	if md.Description != "" {
		res.Descriptions = append(res.Descriptions, description{Type: "Abstract", Value: md.Description})
	}

	for _, ri := range md.RelatedIdentifiers {
		res.RelatedIdentifiers = append(res.RelatedIdentifiers, relatedIdentifier{
			Type:     identifierType(ri.Identifier, ri.Scheme),
			Relation: relationType(ri.Relation),
			Value:    ri.Identifier,
		})
	}
	switch {
	case md.ConceptDOI != "" && doiValue == md.ConceptDOI && md.DOI != "":
		res.RelatedIdentifiers = append(res.RelatedIdentifiers,
			relatedIdentifier{Type: "DOI", Relation: "HasVersion", Value: md.DOI})
	case md.ConceptDOI != "" && doiValue != md.ConceptDOI:
		res.RelatedIdentifiers = append(res.RelatedIdentifiers,
			relatedIdentifier{Type: "DOI", Relation: "IsVersionOf", Value: md.ConceptDOI})
	}

	out, err := xml.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации DataCite XML: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// publicationYear берёт год из даты публикации (YYYY-MM-DD), иначе текущий.
func publicationYear(date string) int {
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.Year()
	}
	return time.Now().UTC().Year()
}

func identifierType(value, scheme string) string {
	switch strings.ToLower(scheme) {
	case "doi":
		return "DOI"
	case "url":
		return "URL"
	}
	if doi.IsDOI(value) {
		return "DOI"
	}
	return "URL"
}

// relationType приводит isSupplementTo к виду IsSupplementTo.
func relationType(rel string) string {
	if rel == "" {
		return "References"
	}
	r := []rune(rel)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

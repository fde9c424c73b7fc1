package commonModels

import "strings"

// Document is the page source sent to the extraction engine. Width and Height are the png
// pixel size, filled in once when the payload is decoded; zero for pdf.
type Document struct {
	Id        string    `json:"document_id"`
	Image     []byte    `json:"-"`
	Format    DocFormat `json:"format"`
	PageCount int       `json:"page_count"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

type PageRef struct {
	DocumentId string `json:"document_id"`
	Page       int    `json:"page"`
}

type DocFormat string

var PDF DocFormat = "pdf"
var PNG DocFormat = "png"
var ERR DocFormat = "error"

func ParseFormat(s string) DocFormat {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "pdf", "application/pdf":
		return PDF
	case "png", "image/png":
		return PNG
	default:
		return ERR
	}
}

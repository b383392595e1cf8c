package vfs

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"strmdav/pkg/identify"
)

// renderNFO produces the descriptor blob for a library folder. All
// interpolated values are XML-escaped; lockdata inhibits remote overwrite by
// the media server.
func renderNFO(ident identify.MediaIdentification) []byte {
	root := "movie"
	if ident.MediaType == identify.MediaTypeShow {
		root = "tvshow"
	}

	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, "<%s>\n", root)
	writeElem(&b, "title", ident.Title)
	writeElem(&b, "originaltitle", ident.Title)
	if ident.Year != "" {
		writeElem(&b, "year", ident.Year)
		writeElem(&b, "premiered", ident.Year+"-01-01")
	}
	b.WriteString("  <plot/>\n")
	if ident.ExternalID != nil {
		var id bytes.Buffer
		escape(&id, ident.ExternalID.ID)
		var source bytes.Buffer
		escape(&source, ident.ExternalID.Source)
		fmt.Fprintf(&b, "  <uniqueid type=%q default=\"true\">%s</uniqueid>\n", source.String(), id.String())
	}
	b.WriteString("  <lockdata>true</lockdata>\n")
	fmt.Fprintf(&b, "</%s>\n", root)
	return b.Bytes()
}

// nfoName returns the descriptor file name for the media type.
func nfoName(mediaType identify.MediaType) string {
	if mediaType == identify.MediaTypeShow {
		return "tvshow.nfo"
	}
	return "movie.nfo"
}

func writeElem(b *bytes.Buffer, name, value string) {
	fmt.Fprintf(b, "  <%s>", name)
	escape(b, value)
	fmt.Fprintf(b, "</%s>\n", name)
}

func escape(b *bytes.Buffer, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

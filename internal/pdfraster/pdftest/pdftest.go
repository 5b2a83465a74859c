// Package pdftest writes small, valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Page describes the content of one generated page.
type Page struct {
	Text string
	// Box draws a filled rectangle under the text when set.
	Box bool
	// Content is appended verbatim to the page's content stream.
	Content string
	// Images are registered as XObjects under the page's resources.
	Images []Image
}

// Image is an image XObject. Data is written as-is, so it must already be
// encoded with Filter.
type Image struct {
	Name          string
	Width, Height int
	// ColorSpace defaults to DeviceRGB.
	ColorSpace string
	// Bits defaults to 8.
	Bits   int
	Filter string
	Data   []byte
}

// Build returns a PDF whose page tree carries a shared MediaBox of
// width x height points and one page per entry in pages.
func Build(width, height float64, pages ...Page) []byte {
	// objects: 1 catalog, 2 page tree, 3 font, then per page the page,
	// its content and its images
	const fontID = 3
	pageIDs := make([]int, len(pages))
	kids := make([]string, 0, len(pages))
	next := 4
	for i, page := range pages {
		pageIDs[i] = next
		kids = append(kids, fmt.Sprintf("%d 0 R", next))
		next += 2 + len(page.Images)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 %s %s] >>",
			strings.Join(kids, " "), len(pages), num(width), num(height)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	for i, page := range pages {
		contentID := pageIDs[i] + 1
		var xobjects strings.Builder
		for j, img := range page.Images {
			fmt.Fprintf(&xobjects, " /%s %d 0 R", img.Name, contentID+1+j)
		}
		resources := fmt.Sprintf("/Font << /F1 %d 0 R >>", fontID)
		if xobjects.Len() > 0 {
			resources += fmt.Sprintf(" /XObject <<%s >>", xobjects.String())
		}
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << %s >> /Contents %d 0 R >>", resources, contentID),
			stream(pageContent(page, height)),
		)
		for _, img := range page.Images {
			objects = append(objects, imageObject(img))
		}
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// Pages is a shorthand for Build on US Letter pages holding the given texts.
func Pages(texts ...string) []byte {
	pages := make([]Page, 0, len(texts))
	for _, text := range texts {
		pages = append(pages, Page{Text: text})
	}
	return Build(612, 792, pages...)
}

func pageContent(page Page, height float64) string {
	var b strings.Builder
	if page.Box {
		fmt.Fprintf(&b, "0.8 g 36 %s 200 40 re f\n", num(height-96))
	}
	if page.Text != "" {
		fmt.Fprintf(&b, "BT /F1 12 Tf 40 %s Td (%s) Tj ET\n", num(height-80), escape(page.Text))
	}
	if page.Content != "" {
		b.WriteString(page.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func imageObject(img Image) string {
	cs := img.ColorSpace
	if cs == "" {
		cs = "DeviceRGB"
	}
	bits := img.Bits
	if bits == 0 {
		bits = 8
	}
	dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent %d",
		img.Width, img.Height, cs, bits)
	if img.Filter != "" {
		dict += " /Filter /" + img.Filter
	}
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%sendstream", dict, len(img.Data), img.Data)
}

func stream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}

func num(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

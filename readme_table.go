package bezelagent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Markers delimiting the generated device table inside a markdown document.
// Everything between them is owned by the docs command and rewritten on each
// regeneration.
const (
	TableBeginMarker = "<!-- BEZEL DEVICE TABLE BEGIN -->"
	TableEndMarker   = "<!-- BEZEL DEVICE TABLE END -->"
)

// RenderDeviceTable produces one markdown heading and table per category,
// categories in lexicographic order and identifiers in display order. Empty
// categories are omitted.
func RenderDeviceTable(ds DeviceDataset) string {
	var b strings.Builder
	first := true
	for _, category := range sortedCategoryKeys(ds.Devices) {
		records := ds.Devices[category]
		if !first {
			b.WriteString("\n")
		}
		first = false
		fmt.Fprintf(&b, "### %s\n\n", category)
		b.WriteString("| Device | Identifier | Bezel |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, id := range sortedIdentifierKeys(records) {
			rec := records[id]
			fmt.Fprintf(&b, "| %s | %s | %s |\n", rec.Name, id, strconv.FormatFloat(rec.Bezel, 'f', -1, 64))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// UpdateMarkdownTable replaces the marked section of doc with the rendered
// device table. Content outside the markers is preserved byte for byte.
func UpdateMarkdownTable(doc []byte, ds DeviceDataset) ([]byte, error) {
	text := string(doc)
	begin := strings.Index(text, TableBeginMarker)
	if begin < 0 {
		return nil, errors.Errorf("marker %q not found", TableBeginMarker)
	}
	afterBegin := begin + len(TableBeginMarker)
	endRel := strings.Index(text[afterBegin:], TableEndMarker)
	if endRel < 0 {
		return nil, errors.Errorf("marker %q not found after begin marker", TableEndMarker)
	}
	end := afterBegin + endRel

	var b strings.Builder
	b.WriteString(text[:afterBegin])
	b.WriteString("\n\n")
	if table := RenderDeviceTable(ds); table != "" {
		b.WriteString(table)
		b.WriteString("\n\n")
	}
	b.WriteString(text[end:])
	return []byte(b.String()), nil
}

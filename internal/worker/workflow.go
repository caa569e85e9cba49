// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// ExtractWorkflow returns the first child element of the container
// document's root, byte for byte. Namespace declarations made on the root
// and not redeclared by the child are copied onto the child's start tag so
// the result stands alone.
func ExtractWorkflow(container string) (string, error) {
	d := xml.NewDecoder(strings.NewReader(container))

	var (
		rootNS []xml.Attr
		depth  int
	)
	for {
		offset := d.InputOffset()
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return "", &rferrors.ValidationError{Field: "workflow", Message: "container has no workflow element"}
		}
		if err != nil {
			return "", &rferrors.ValidationError{Field: "workflow", Message: fmt.Sprintf("malformed container: %v", err)}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				rootNS = namespaceDecls(t.Attr)
				depth++
				continue
			}
			if err := skipElement(d); err != nil {
				return "", &rferrors.ValidationError{Field: "workflow", Message: fmt.Sprintf("malformed workflow: %v", err)}
			}
			raw := container[offset:d.InputOffset()]
			return inheritNamespaces(raw, rootNS, namespaceDecls(t.Attr)), nil
		case xml.EndElement:
			depth--
			if depth == 0 {
				return "", &rferrors.ValidationError{Field: "workflow", Message: "container has no workflow element"}
			}
		}
	}
}

// skipElement consumes tokens up to the end of the element whose start tag
// was just read.
func skipElement(d *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := d.RawToken()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func namespaceDecls(attrs []xml.Attr) []xml.Attr {
	var out []xml.Attr
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			out = append(out, a)
		}
	}
	return out
}

func attrName(a xml.Attr) string {
	if a.Name.Space == "" {
		return a.Name.Local
	}
	return a.Name.Space + ":" + a.Name.Local
}

func inheritNamespaces(raw string, inherited, own []xml.Attr) string {
	var extra strings.Builder
	for _, a := range inherited {
		name := attrName(a)
		if slices.ContainsFunc(own, func(o xml.Attr) bool { return attrName(o) == name }) {
			continue
		}
		extra.WriteString(" ")
		extra.WriteString(name)
		extra.WriteString(`="`)
		_ = xml.EscapeText(&extra, []byte(a.Value))
		extra.WriteString(`"`)
	}
	if extra.Len() == 0 {
		return raw
	}

	// Insert right after the element name.
	end := strings.IndexAny(raw[1:], " \t\r\n/>") + 1
	return raw[:end] + extra.String() + raw[end:]
}

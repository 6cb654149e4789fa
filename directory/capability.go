package directory

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Capability is the structured description an agent registers with. It is
// validated before registration and rendered into the readme document that
// directory searches match against.
type Capability struct {
	Description string   `json:"description"`
	UseCases    []string `json:"use_cases,omitempty"`

	// PayloadDescription summarises what the agent expects to receive.
	PayloadDescription string      `json:"payload_description,omitempty"`
	Parameters         []Parameter `json:"parameters,omitempty"`
	Pricing            *Pricing    `json:"pricing,omitempty"`
}

// Parameter is one required payload field.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Pricing is the per-request price an agent advertises.
type Pricing struct {
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	PerRequest bool    `json:"per_request"`
}

// Validate checks the descriptor. Prices must be finite and non-negative and
// the currency a three-letter code.
func (c *Capability) Validate() error {
	if c == nil {
		return fmt.Errorf("capability is required")
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("capability description is required")
	}
	seen := make(map[string]bool, len(c.Parameters))
	for i, p := range c.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("parameter %q listed twice", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Pricing != nil {
		if err := c.Pricing.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a price.
func (p *Pricing) Validate() error {
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0 {
		return fmt.Errorf("price must be a finite, non-negative number")
	}
	if len(p.Currency) != 3 || strings.ToUpper(p.Currency) != p.Currency {
		return fmt.Errorf("currency must be a three-letter upper-case code, got %q", p.Currency)
	}
	return nil
}

// readmeDoc mirrors the readme layout. The root element is dropped on output.
type readmeDoc struct {
	XMLName     xml.Name       `xml:"readme"`
	Description string         `xml:"description"`
	UseCases    []string       `xml:"use_cases>use_case,omitempty"`
	Payload     *readmePayload `xml:"payload_requirements,omitempty"`
	Pricing     *readmePricing `xml:"pricing,omitempty"`
}

type readmePayload struct {
	Description  string              `xml:"description,omitempty"`
	Requirements []readmeRequirement `xml:"payload>requirement"`
}

type readmeRequirement struct {
	Parameter   string `xml:"parameter"`
	Description string `xml:"description,omitempty"`
}

type readmePricing struct {
	Price      string `xml:"price"`
	Currency   string `xml:"currency"`
	PerRequest bool   `xml:"per_request"`
}

// Readme renders the descriptor as the XML-like readme text:
// <description>, <use_cases>, <payload_requirements> and <pricing> blocks.
func (c *Capability) Readme() (string, error) {
	doc := readmeDoc{
		Description: c.Description,
		UseCases:    c.UseCases,
	}
	if c.PayloadDescription != "" || len(c.Parameters) > 0 {
		doc.Payload = &readmePayload{Description: c.PayloadDescription}
		for _, p := range c.Parameters {
			doc.Payload.Requirements = append(doc.Payload.Requirements, readmeRequirement{
				Parameter:   p.Name,
				Description: p.Description,
			})
		}
	}
	if c.Pricing != nil {
		doc.Pricing = &readmePricing{
			Price:      FormatPrice(c.Pricing.Price),
			Currency:   c.Pricing.Currency,
			PerRequest: c.Pricing.PerRequest,
		}
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("render readme: %w", err)
	}
	out := buf.String()
	out = strings.TrimPrefix(out, "<readme>")
	out = strings.TrimSuffix(out, "</readme>")
	return strings.TrimSpace(dedent(out)), nil
}

// dedent removes the one level of indentation the dropped root element added.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, "  ")
	}
	return strings.Join(lines, "\n")
}

// FormatPrice renders a price the way readmes carry it.
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

// ParsePrice extracts the price from a readme: the text between the first
// "<price>" and the first "</price>", trimmed and parsed as a float. Missing
// or misordered tags, unparseable text, and non-finite or negative values
// report ok=false.
func ParsePrice(readme string) (price float64, ok bool) {
	const open, closing = "<price>", "</price>"

	start := strings.Index(readme, open)
	if start < 0 {
		return 0, false
	}
	start += len(open)
	end := strings.Index(readme, closing)
	if end < start {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(readme[start:end]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

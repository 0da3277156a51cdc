package erp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harrylevesque/erpportal/internal/apperr"
)

// Kind is a document family served by the ERP.
type Kind string

const (
	KindInvoice   Kind = "invoice" // DANFE
	KindOrder     Kind = "order"
	KindBoleto    Kind = "boleto"
	KindQuotation Kind = "quotation"
)

func (k Kind) Title() string {
	switch k {
	case KindInvoice:
		return "Invoice (DANFE)"
	case KindOrder:
		return "Order"
	case KindBoleto:
		return "Boleto"
	case KindQuotation:
		return "Quotation"
	default:
		return "Document"
	}
}

// Descriptor identifies one document variant on the ERP.
type Descriptor struct {
	Kind         Kind
	Number       string
	Endpoint     string
	Query        url.Values
	FilenameHint string
}

// Key identifies the variant; two descriptors with the same key fetch the same bytes.
func (d Descriptor) Key() string {
	if len(d.Query) == 0 {
		return d.Endpoint
	}
	return d.Endpoint + "?" + d.Query.Encode()
}

// DocumentID is the viewer id for this descriptor, e.g. "boleto-123".
func (d Descriptor) DocumentID() string {
	return string(d.Kind) + "-" + d.Number
}

// Catalog maps kinds to endpoint templates containing an {id} placeholder.
type Catalog map[Kind]string

func NewCatalog(templates map[string]string) Catalog {
	c := make(Catalog, len(templates))
	for k, v := range templates {
		c[Kind(strings.ToLower(k))] = v
	}
	return c
}

// Describe builds the descriptor for document number of the given kind.
func (c Catalog) Describe(kind Kind, number string, query url.Values) (Descriptor, error) {
	tmpl, ok := c[kind]
	if !ok {
		return Descriptor{}, apperr.New(apperr.KindInvalidInput, fmt.Sprintf("unknown document kind %q", kind))
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return Descriptor{}, apperr.New(apperr.KindInvalidInput, "document number is required")
	}
	return Descriptor{
		Kind:         kind,
		Number:       number,
		Endpoint:     strings.ReplaceAll(tmpl, "{id}", url.PathEscape(number)),
		Query:        query,
		FilenameHint: fmt.Sprintf("%s-%s.pdf", kind, number),
	}, nil
}

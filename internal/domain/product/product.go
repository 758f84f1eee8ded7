package product

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("product not found")
	ErrBlankName        = errors.New("product name can't be empty")
	ErrBlankDescription = errors.New("product description can't be empty")
	ErrBlankSeller      = errors.New("product sellerId can't be empty")
	ErrNegativePrice    = errors.New("product price must be greater than or equal to 0")
	ErrNegativeQuantity = errors.New("product quantity must be greater than or equal to 0")
)

// Product is the durable record the inventory ledger mutates. The optimistic
// concurrency version token lives on the store record, not here.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	SellerID       string          `json:"sellerId"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	QuantityOnHand int             `json:"quantityOnHand"`
	QuantitySold   int             `json:"quantitySold"`
}

// Validate checks the field constraints a product must satisfy before it is
// stored.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrBlankName
	}
	if strings.TrimSpace(p.Description) == "" {
		return ErrBlankDescription
	}
	if strings.TrimSpace(p.SellerID) == "" {
		return ErrBlankSeller
	}
	if p.UnitPrice.IsNegative() {
		return ErrNegativePrice
	}
	if p.QuantityOnHand < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

// Key returns the record-store key for a product.
func Key(productID string) string {
	return "product/" + productID
}

// SellerIndexKey returns the index key linking a seller to one product.
func SellerIndexKey(sellerID, productID string) string {
	return SellerIndexPrefix(sellerID) + productID
}

// SellerIndexPrefix returns the scan prefix for a seller's products.
func SellerIndexPrefix(sellerID string) string {
	return "seller-products/" + sellerID + "/"
}

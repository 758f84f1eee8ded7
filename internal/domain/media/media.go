package media

import "errors"

var ErrNotFound = errors.New("media not found")

// Media links a stored image to the product that owns it.
type Media struct {
	ID        string `json:"id"`
	ImagePath string `json:"imagePath"`
	ProductID string `json:"productId"`
}

// Key returns the record-store key for a media record.
func Key(mediaID string) string {
	return "media/" + mediaID
}

// ProductIndexKey returns the index key linking a product to one media record.
func ProductIndexKey(productID, mediaID string) string {
	return ProductIndexPrefix(productID) + mediaID
}

// ProductIndexPrefix returns the scan prefix for a product's media.
func ProductIndexPrefix(productID string) string {
	return "product-media/" + productID + "/"
}

package domain

import (
	"fmt"
	"strings"
)

// ParentType identifies the document kind that owns a timeline.
type ParentType string

const (
	ParentPurchaseOrder ParentType = "PURCHASE_ORDER"
	ParentShipment      ParentType = "SHIPMENT"
)

// ParseParentType normalizes and validates a parent type string.
func ParseParentType(s string) (ParentType, error) {
	normalized := ParentType(strings.ToUpper(strings.TrimSpace(s)))
	switch normalized {
	case ParentPurchaseOrder, ParentShipment:
		return normalized, nil
	}
	return "", fmt.Errorf("parent type must be %s or %s", ParentPurchaseOrder, ParentShipment)
}

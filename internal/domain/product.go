package domain

import "strings"

// Product — позиция каталога.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Category   string `json:"category"`
}

// Validate проверяет обязательные поля товара.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrProductNameRequired
	}
	if p.PriceMinor < 0 {
		return ErrItemPriceInvalid
	}
	return nil
}

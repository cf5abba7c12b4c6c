package billing

import (
	"context"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// CartSummary — текущая корзина с итогами.
type CartSummary struct {
	Lines      []domain.CartLine `json:"lines"`
	TotalMinor int64             `json:"total_minor"`
	ItemCount  int64             `json:"item_count"`
}

// Cart возвращает корзину и её итоги.
func (s *Service) Cart(ctx context.Context) (CartSummary, error) {
	lines, err := s.snapshot.Cart(ctx)
	if err != nil {
		return CartSummary{}, fatal("read cart", err)
	}
	return summarize(lines), nil
}

// AddToCart добавляет товар из каталога; повторное добавление увеличивает количество на 1.
func (s *Service) AddToCart(ctx context.Context, productID string) (CartSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.snapshot.Product(ctx, productID)
	if err != nil {
		return CartSummary{}, lookupErr("read product", err)
	}

	return s.mutateCart(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		for i := range lines {
			if lines[i].Product.ID == productID {
				lines[i].Qty++
				return lines, nil
			}
		}
		return append(lines, domain.CartLine{Product: product, Qty: 1}), nil
	})
}

// RemoveFromCart убирает позицию товара из корзины.
func (s *Service) RemoveFromCart(ctx context.Context, productID string) (CartSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutateCart(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		return removeLine(lines, productID), nil
	})
}

// UpdateQuantity задаёт количество; значение <= 0 удаляет позицию.
func (s *Service) UpdateQuantity(ctx context.Context, productID string, qty int32) (CartSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutateCart(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		if qty <= 0 {
			return removeLine(lines, productID), nil
		}
		for i := range lines {
			if lines[i].Product.ID == productID {
				lines[i].Qty = qty
				return lines, nil
			}
		}
		return nil, domain.ErrProductNotFound
	})
}

// UpdatePrice вручную переопределяет цену позиции.
func (s *Service) UpdatePrice(ctx context.Context, productID string, priceMinor int64) (CartSummary, error) {
	if priceMinor < 0 {
		return CartSummary{}, domain.ErrItemPriceInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutateCart(ctx, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		for i := range lines {
			if lines[i].Product.ID == productID {
				price := priceMinor
				lines[i].OverriddenPriceMinor = &price
				return lines, nil
			}
		}
		return nil, domain.ErrProductNotFound
	})
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshot.SaveCart(ctx, nil); err != nil {
		return fatal("clear cart", err)
	}
	return nil
}

func (s *Service) mutateCart(ctx context.Context, mutate func([]domain.CartLine) ([]domain.CartLine, error)) (CartSummary, error) {
	lines, err := s.snapshot.Cart(ctx)
	if err != nil {
		return CartSummary{}, fatal("read cart", err)
	}
	lines, err = mutate(domain.CloneLines(lines))
	if err != nil {
		return CartSummary{}, err
	}
	if err := s.snapshot.SaveCart(ctx, lines); err != nil {
		return CartSummary{}, fatal("store cart", err)
	}
	return summarize(lines), nil
}

func removeLine(lines []domain.CartLine, productID string) []domain.CartLine {
	kept := lines[:0]
	for _, line := range lines {
		if line.Product.ID != productID {
			kept = append(kept, line)
		}
	}
	return kept
}

func summarize(lines []domain.CartLine) CartSummary {
	summary := CartSummary{Lines: lines, TotalMinor: domain.LinesTotal(lines)}
	if summary.Lines == nil {
		summary.Lines = []domain.CartLine{}
	}
	for _, line := range lines {
		summary.ItemCount += int64(line.Qty)
	}
	return summary
}

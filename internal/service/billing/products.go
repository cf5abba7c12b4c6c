package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// Products возвращает каталог из снапшота.
func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	products, err := s.snapshot.Products(ctx)
	if err != nil {
		return nil, fatal("read products", err)
	}
	return products, nil
}

// AddProduct добавляет товар в каталог. ID генерируется локально, чтобы товар можно было завести офлайн.
func (s *Service) AddProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	undo := func(ctx context.Context) error { return s.snapshot.DeleteProduct(ctx, product.ID) }
	// товар с переданным ID мог уже быть в каталоге
	if previous, err := s.snapshot.Product(ctx, product.ID); err == nil {
		undo = func(ctx context.Context) error { return s.snapshot.PutProduct(ctx, previous) }
	}
	if err := s.writeProduct(ctx, domain.OpAddProduct, product, undo); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// UpdateProduct заменяет данные существующего товара.
func (s *Service) UpdateProduct(ctx context.Context, id string, product domain.Product) (domain.Product, error) {
	product.ID = id
	product.Name = strings.TrimSpace(product.Name)
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.snapshot.Product(ctx, id)
	if err != nil {
		return domain.Product{}, lookupErr("read product", err)
	}
	undo := func(ctx context.Context) error { return s.snapshot.PutProduct(ctx, previous) }
	if err := s.writeProduct(ctx, domain.OpUpdateProduct, product, undo); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// DeleteProduct удаляет товар из каталога. Позиции уже оформленных заказов не меняются.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.snapshot.Product(ctx, id)
	if err != nil {
		return lookupErr("read product", err)
	}

	op, err := domain.NewOperation(domain.OpDeleteProduct, domain.DeleteProductPayload{ProductID: id})
	if err != nil {
		return err
	}
	if err := s.snapshot.DeleteProduct(ctx, id); err != nil {
		return fatal("delete product", err)
	}
	return s.commit(ctx, op, func(ctx context.Context) error { return s.snapshot.PutProduct(ctx, previous) })
}

func (s *Service) writeProduct(ctx context.Context, opType domain.OperationType, product domain.Product, undo func(context.Context) error) error {
	op, err := domain.NewOperation(opType, domain.ProductPayload{Product: product})
	if err != nil {
		return err
	}
	if err := s.snapshot.PutProduct(ctx, product); err != nil {
		return fatal("store product", err)
	}
	return s.commit(ctx, op, undo)
}

package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/catalog"
	"github.com/tradewind-erp/tradewind/internal/inventory"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/shared"
	"github.com/tradewind-erp/tradewind/internal/treasury"
)

// RepositoryPort abstracts procurement persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, companyID, purchaseID int64) (Purchase, error)
	GetPurchaseItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error)
}

// TxRepository exposes the writes a purchase performs inside one transaction:
// inventory receipt, the purchase invoice, supplier balances, the payment
// voucher, and the journal event.
type TxRepository interface {
	LockInventory(ctx context.Context, companyID int64, keys []inventory.Key) (map[inventory.Key]inventory.Item, error)
	SaveInventory(ctx context.Context, item inventory.Item) (inventory.Item, error)
	InsertMovement(ctx context.Context, m inventory.Movement) error

	NextPurchaseNumber(ctx context.Context, companyID int64, year int) (string, error)
	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	InsertItems(ctx context.Context, purchaseID int64, items []PurchaseItem) error
	GetPurchaseForUpdate(ctx context.Context, companyID, purchaseID int64) (Purchase, error)
	UpdatePurchasePayment(ctx context.Context, purchaseID int64, paid, due decimal.Decimal, status PaymentStatus) error

	GetSupplierForUpdate(ctx context.Context, companyID, supplierID int64) (Supplier, error)
	ApplySupplierBalances(ctx context.Context, supplierID int64, balanceDelta, outstandingDelta decimal.Decimal) error

	InsertVoucher(ctx context.Context, v treasury.Voucher, at time.Time) (treasury.Voucher, error)
	AppendEvent(ctx context.Context, ev ledger.JournalEvent) (int64, error)
}

// CatalogPort reads products for unit conversion.
type CatalogPort interface {
	GetProducts(ctx context.Context, companyID int64, ids []int64) (map[int64]catalog.Product, error)
}

// PosterPort posts one journal event after the operational commit.
type PosterPort interface {
	PostEvent(ctx context.Context, eventID int64) error
}

// AuditPort records successful orchestrations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchases and supplier payments. The shape mirrors the
// sales side: one transaction per operation, the journal event appended inside
// it and posted best-effort after commit.
type Service struct {
	repo         RepositoryPort
	catalog      CatalogPort
	poster       PosterPort
	audit        AuditPort
	logger       *slog.Logger
	baseCurrency string
	now          func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, catalogPort CatalogPort, poster PosterPort, audit AuditPort, logger *slog.Logger, baseCurrency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		catalog:      catalogPort,
		poster:       poster,
		audit:        audit,
		logger:       logger,
		baseCurrency: baseCurrency,
		now:          time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PurchaseLine is one received line in the unit the supplier bills.
type PurchaseLine struct {
	ProductID int64
	UnitID    string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
}

// PurchaseInput is a committed goods receipt.
type PurchaseInput struct {
	SupplierID   int64
	WarehouseID  int64
	Lines        []PurchaseLine
	Paid         decimal.Decimal
	Method       string
	Currency     string
	ExchangeRate decimal.Decimal
}

// PurchaseResult reports the committed purchase invoice.
type PurchaseResult struct {
	PurchaseID    int64
	InvoiceNumber string
	Status        PaymentStatus
	Total         decimal.Decimal
	Paid          decimal.Decimal
	Due           decimal.Decimal
}

func (s *Service) normalizeCurrency(currency string, rate decimal.Decimal) (string, decimal.Decimal, error) {
	if currency == "" || currency == s.baseCurrency {
		return s.baseCurrency, decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return "", decimal.Decimal{}, fmt.Errorf("procurement: exchange rate required for currency %s", currency)
	}
	return currency, rate, nil
}

type costedLine struct {
	line      PurchaseLine
	product   catalog.Product
	unit      catalog.SellingUnit
	baseQty   decimal.Decimal
	lineTotal decimal.Decimal
}

// costLines converts every received line to base units and extends the cost.
// Unit costs arrive in the transaction currency and are converted by rate.
func (s *Service) costLines(ctx context.Context, companyID int64, lines []PurchaseLine, rate decimal.Decimal) ([]costedLine, decimal.Decimal, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, decimal.Decimal{}, fmt.Errorf("procurement: product %d: %w", l.ProductID, inventory.ErrInvalidQuantity)
		}
		if !l.UnitCost.IsPositive() {
			return nil, decimal.Decimal{}, fmt.Errorf("%w: product %d", ErrInvalidCost, l.ProductID)
		}
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, companyID, ids)
	if err != nil {
		return nil, decimal.Decimal{}, err
	}
	var total decimal.Decimal
	costed := make([]costedLine, 0, len(lines))
	for _, l := range lines {
		product := products[l.ProductID]
		unit, err := product.Unit(l.UnitID)
		if err != nil {
			return nil, decimal.Decimal{}, fmt.Errorf("procurement: product %d: %w", l.ProductID, err)
		}
		baseQty, err := catalog.ToBaseQuantity(l.Quantity, l.UnitID, product.SellingUnits)
		if err != nil {
			return nil, decimal.Decimal{}, err
		}
		lineTotal := l.Quantity.Mul(l.UnitCost).Mul(rate)
		total = total.Add(lineTotal)
		costed = append(costed, costedLine{line: l, product: product, unit: unit, baseQty: baseQty, lineTotal: lineTotal})
	}
	return costed, total, nil
}

// receiveStock locks all touched inventory rows, applies the inbound per
// line, and writes a movement each. Missing stock rows are created.
func (s *Service) receiveStock(ctx context.Context, tx TxRepository, rc shared.RequestContext, warehouseID int64, costed []costedLine, refID int64, at time.Time) error {
	keys := make([]inventory.Key, 0, len(costed))
	seen := make(map[inventory.Key]bool, len(costed))
	for _, c := range costed {
		key := inventory.Key{ProductID: c.line.ProductID, WarehouseID: warehouseID}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	items, err := tx.LockInventory(ctx, rc.CompanyID, keys)
	if err != nil {
		return err
	}
	for _, c := range costed {
		key := inventory.Key{ProductID: c.line.ProductID, WarehouseID: warehouseID}
		item, ok := items[key]
		if !ok {
			item = inventory.Item{CompanyID: rc.CompanyID, ProductID: key.ProductID, WarehouseID: key.WarehouseID}
		}
		before := item.StockQty
		if err := item.ApplyInbound(c.baseQty); err != nil {
			return err
		}
		saved, err := tx.SaveInventory(ctx, item)
		if err != nil {
			return err
		}
		items[key] = saved
		if err := tx.InsertMovement(ctx, inventory.Movement{
			CompanyID:     rc.CompanyID,
			ProductID:     key.ProductID,
			WarehouseID:   key.WarehouseID,
			Type:          inventory.MovementIncomingPurchase,
			Qty:           c.baseQty,
			BeforeQty:     before,
			AfterQty:      saved.StockQty,
			ReferenceType: "purchase",
			ReferenceID:   refID,
			CreatedBy:     rc.UserID,
			CreatedAt:     at,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessPurchase commits one goods receipt as a single atomic unit: stock
// increment, purchase invoice and lines, supplier balances, payment voucher
// for the paid portion, and the purchase journal event.
func (s *Service) ProcessPurchase(ctx context.Context, rc shared.RequestContext, input PurchaseInput) (PurchaseResult, error) {
	if !rc.Valid() {
		return PurchaseResult{}, shared.ErrNoRequestContext
	}
	if len(input.Lines) == 0 {
		return PurchaseResult{}, ErrEmptyOrder
	}
	currency, rate, err := s.normalizeCurrency(input.Currency, input.ExchangeRate)
	if err != nil {
		return PurchaseResult{}, err
	}
	costed, total, err := s.costLines(ctx, rc.CompanyID, input.Lines, rate)
	if err != nil {
		return PurchaseResult{}, err
	}
	paid := input.Paid.Mul(rate)
	if paid.IsNegative() {
		return PurchaseResult{}, ErrInvalidPayment
	}
	if paid.GreaterThan(total) {
		return PurchaseResult{}, fmt.Errorf("%w: total %s, got %s", ErrOverpayment, total, paid)
	}
	due := AmountDueOf(total, paid)
	status := DeriveStatus(total, paid)

	now := s.now().UTC()
	var result PurchaseResult
	var eventID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetSupplierForUpdate(ctx, rc.CompanyID, input.SupplierID); err != nil {
			return err
		}
		number, err := tx.NextPurchaseNumber(ctx, rc.CompanyID, now.Year())
		if err != nil {
			return err
		}
		purchase := Purchase{
			CompanyID:       rc.CompanyID,
			InvoiceNumber:   number,
			SupplierID:      input.SupplierID,
			WarehouseID:     input.WarehouseID,
			TotalAmount:     total,
			AmountPaid:      paid,
			AmountDue:       due,
			Status:          status,
			PaymentMethod:   input.Method,
			Currency:        currency,
			ExchangeRate:    rate,
			ForeignTendered: input.Paid,
			CreatedBy:       rc.UserID,
			CreatedAt:       now,
		}
		purchaseID, err := tx.InsertPurchase(ctx, purchase)
		if err != nil {
			return err
		}
		items := make([]PurchaseItem, 0, len(costed))
		for _, c := range costed {
			baseUnitCost := c.lineTotal.Div(c.baseQty)
			items = append(items, PurchaseItem{
				PurchaseID:   purchaseID,
				ProductID:    c.line.ProductID,
				UnitID:       c.unit.ID,
				UnitName:     c.unit.Name,
				Quantity:     c.line.Quantity,
				BaseQuantity: c.baseQty,
				UnitCost:     c.line.UnitCost.Mul(rate),
				BaseUnitCost: baseUnitCost,
				TotalCost:    c.lineTotal,
			})
		}
		if err := tx.InsertItems(ctx, purchaseID, items); err != nil {
			return err
		}
		if err := s.receiveStock(ctx, tx, rc, input.WarehouseID, costed, purchaseID, now); err != nil {
			return err
		}
		if due.IsPositive() {
			if err := tx.ApplySupplierBalances(ctx, input.SupplierID, decimal.Zero, due); err != nil {
				return err
			}
		}
		if paid.IsPositive() {
			if _, err := tx.InsertVoucher(ctx, treasury.Voucher{
				CompanyID:     rc.CompanyID,
				Type:          treasury.VoucherPayment,
				Amount:        paid,
				Currency:      currency,
				ExchangeRate:  rate,
				ForeignAmount: input.Paid,
				Method:        input.Method,
				InvoiceID:     &purchaseID,
				SupplierID:    &input.SupplierID,
				Note:          fmt.Sprintf("Payment on %s", number),
				CreatedBy:     rc.UserID,
			}, now); err != nil {
				return err
			}
		}
		event, err := ledger.NewEvent(rc.CompanyID, ledger.EventPurchase, "purchase", purchaseID, ledger.PurchasePayload{
			InvoiceID:    purchaseID,
			SupplierID:   input.SupplierID,
			Total:        total,
			Paid:         paid,
			Method:       input.Method,
			Currency:     currency,
			ExchangeRate: rate,
		})
		if err != nil {
			return err
		}
		if eventID, err = tx.AppendEvent(ctx, event); err != nil {
			return err
		}
		result = PurchaseResult{
			PurchaseID:    purchaseID,
			InvoiceNumber: number,
			Status:        status,
			Total:         total,
			Paid:          paid,
			Due:           due,
		}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.postAfterCommit(ctx, eventID)
	s.recordAudit(ctx, rc, "purchase.commit", "purchase", result.PurchaseID, map[string]any{
		"invoice_number": result.InvoiceNumber,
		"total":          result.Total.String(),
		"status":         string(result.Status),
	})
	return result, nil
}

// PaymentInput settles part of an open purchase invoice.
type PaymentInput struct {
	Amount       decimal.Decimal
	Method       string
	Currency     string
	ExchangeRate decimal.Decimal
}

// RecordSupplierPayment applies a payment against an open purchase invoice,
// updating the invoice, the supplier's outstanding balance, a payment
// voucher, and the payment journal event in one transaction.
func (s *Service) RecordSupplierPayment(ctx context.Context, rc shared.RequestContext, purchaseID int64, input PaymentInput) (Purchase, error) {
	if !rc.Valid() {
		return Purchase{}, shared.ErrNoRequestContext
	}
	currency, rate, err := s.normalizeCurrency(input.Currency, input.ExchangeRate)
	if err != nil {
		return Purchase{}, err
	}
	amount := input.Amount.Mul(rate)
	if !amount.IsPositive() {
		return Purchase{}, ErrInvalidPayment
	}

	now := s.now().UTC()
	var updated Purchase
	var eventID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, rc.CompanyID, purchaseID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(purchase.AmountDue) {
			return fmt.Errorf("%w: due %s, got %s", ErrOverpayment, purchase.AmountDue, amount)
		}
		newPaid := purchase.AmountPaid.Add(amount)
		newDue := AmountDueOf(purchase.TotalAmount, newPaid)
		status := DeriveStatus(purchase.TotalAmount, newPaid)
		if err := tx.UpdatePurchasePayment(ctx, purchase.ID, newPaid, newDue, status); err != nil {
			return err
		}
		if err := tx.ApplySupplierBalances(ctx, purchase.SupplierID, decimal.Zero, amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.InsertVoucher(ctx, treasury.Voucher{
			CompanyID:     rc.CompanyID,
			Type:          treasury.VoucherPayment,
			Amount:        amount,
			Currency:      currency,
			ExchangeRate:  rate,
			ForeignAmount: input.Amount,
			Method:        input.Method,
			InvoiceID:     &purchase.ID,
			SupplierID:    &purchase.SupplierID,
			Note:          fmt.Sprintf("Payment on %s", purchase.InvoiceNumber),
			CreatedBy:     rc.UserID,
		}, now); err != nil {
			return err
		}
		event, err := ledger.NewEvent(rc.CompanyID, ledger.EventPayment, "purchase", purchase.ID, ledger.PaymentPayload{
			InvoiceID:      purchase.ID,
			CounterpartyID: purchase.SupplierID,
			Direction:      ledger.PaymentPayable,
			Amount:         amount,
			Method:         input.Method,
			Currency:       currency,
			ExchangeRate:   rate,
		})
		if err != nil {
			return err
		}
		if eventID, err = tx.AppendEvent(ctx, event); err != nil {
			return err
		}
		purchase.AmountPaid = newPaid
		purchase.AmountDue = newDue
		purchase.Status = status
		updated = purchase
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.postAfterCommit(ctx, eventID)
	s.recordAudit(ctx, rc, "purchase.payment", "purchase", purchaseID, map[string]any{
		"amount": amount.String(),
		"status": string(updated.Status),
	})
	return updated, nil
}

// GetPurchase returns one purchase with its lines.
func (s *Service) GetPurchase(ctx context.Context, rc shared.RequestContext, purchaseID int64) (Purchase, []PurchaseItem, error) {
	if !rc.Valid() {
		return Purchase{}, nil, shared.ErrNoRequestContext
	}
	purchase, err := s.repo.GetPurchase(ctx, rc.CompanyID, purchaseID)
	if err != nil {
		return Purchase{}, nil, err
	}
	items, err := s.repo.GetPurchaseItems(ctx, purchase.ID)
	if err != nil {
		return Purchase{}, nil, err
	}
	return purchase, items, nil
}

func (s *Service) postAfterCommit(ctx context.Context, eventID int64) {
	if s.poster == nil || eventID == 0 {
		return
	}
	if err := s.poster.PostEvent(ctx, eventID); err != nil {
		s.logger.Warn("inline journal posting failed, event queued for retry",
			slog.Int64("event_id", eventID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, rc shared.RequestContext, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: rc.CompanyID,
		ActorID:   rc.UserID,
		Action:    action,
		Entity:    entity,
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
		At:        s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/catalog"
	"github.com/tradewind-erp/tradewind/internal/inventory"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/sequence"
	"github.com/tradewind-erp/tradewind/internal/shared"
	"github.com/tradewind-erp/tradewind/internal/treasury"
)

// RepositoryPort abstracts sales persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, companyID, invoiceID int64) (Invoice, error)
	GetInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
}

// TxRepository exposes every write the orchestrator performs inside one
// transaction: inventory, invoices, customer balances, vouchers, and the
// journal event, so they commit or roll back together.
type TxRepository interface {
	LockInventory(ctx context.Context, companyID int64, keys []inventory.Key) (map[inventory.Key]inventory.Item, error)
	SaveInventory(ctx context.Context, item inventory.Item) (inventory.Item, error)
	InsertMovement(ctx context.Context, m inventory.Movement) error

	NextInvoiceNumber(ctx context.Context, companyID int64, kind string, year int) (string, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertItems(ctx context.Context, invoiceID int64, items []InvoiceItem) error
	GetInvoiceForUpdate(ctx context.Context, companyID, invoiceID int64) (Invoice, error)
	InvoiceItemsOf(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
	ReturnedBaseQuantities(ctx context.Context, originalSaleID int64) (map[int64]decimal.Decimal, error)
	UpdateInvoicePayment(ctx context.Context, invoiceID int64, paid, due decimal.Decimal, status PaymentStatus) error

	GetCustomerForUpdate(ctx context.Context, companyID, customerID int64) (Customer, error)
	ApplyCustomerBalances(ctx context.Context, customerID int64, balanceDelta, outstandingDelta decimal.Decimal) error

	InsertVoucher(ctx context.Context, v treasury.Voucher, at time.Time) (treasury.Voucher, error)
	AppendEvent(ctx context.Context, ev ledger.JournalEvent) (int64, error)
}

// CatalogPort reads products for pricing and unit conversion.
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

// Service orchestrates sales, returns, and invoice payments. Every operation
// is a single transaction; the journal event is appended inside it and posted
// best-effort afterwards, the event row being the durable retry queue.
type Service struct {
	repo         RepositoryPort
	catalog      CatalogPort
	poster       PosterPort
	audit        AuditPort
	logger       *slog.Logger
	baseCurrency string
	now          func() time.Time
}

// NewService constructs the sales service.
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

// SaleLine is one cart line in the unit the customer transacts.
type SaleLine struct {
	ProductID int64
	UnitID    string
	Quantity  decimal.Decimal
}

// SaleInput is a committed cart.
type SaleInput struct {
	WarehouseID  int64
	CustomerID   *int64
	Lines        []SaleLine
	Tendered     decimal.Decimal
	Method       string
	Currency     string
	ExchangeRate decimal.Decimal
}

// SaleResult reports the committed invoice.
type SaleResult struct {
	InvoiceID     int64
	InvoiceNumber string
	Status        PaymentStatus
	Total         decimal.Decimal
	Paid          decimal.Decimal
	Change        decimal.Decimal
	Due           decimal.Decimal
}

// normalizeCurrency defaults the currency to the company base and the rate
// to 1; a foreign tender must carry a positive rate.
func (s *Service) normalizeCurrency(currency string, rate decimal.Decimal) (string, decimal.Decimal, error) {
	if currency == "" || currency == s.baseCurrency {
		return s.baseCurrency, decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return "", decimal.Decimal{}, fmt.Errorf("sales: exchange rate required for currency %s", currency)
	}
	return currency, rate, nil
}

type pricedLine struct {
	line      SaleLine
	product   catalog.Product
	unit      catalog.SellingUnit
	baseQty   decimal.Decimal
	lineTotal decimal.Decimal
	lineCOGS  decimal.Decimal
}

// priceCart converts, prices, and costs every cart line.
func (s *Service) priceCart(ctx context.Context, companyID int64, lines []SaleLine) ([]pricedLine, decimal.Decimal, decimal.Decimal, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("sales: product %d: %w", l.ProductID, inventory.ErrInvalidQuantity)
		}
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, companyID, ids)
	if err != nil {
		return nil, decimal.Decimal{}, decimal.Decimal{}, err
	}
	var total, cogs decimal.Decimal
	priced := make([]pricedLine, 0, len(lines))
	for _, l := range lines {
		product := products[l.ProductID]
		unit, err := product.Unit(l.UnitID)
		if err != nil {
			return nil, decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("sales: product %d: %w", l.ProductID, err)
		}
		baseQty, err := catalog.ToBaseQuantity(l.Quantity, l.UnitID, product.SellingUnits)
		if err != nil {
			return nil, decimal.Decimal{}, decimal.Decimal{}, err
		}
		lineTotal := l.Quantity.Mul(unit.Price)
		lineCOGS := product.CostPrice.Mul(baseQty)
		total = total.Add(lineTotal)
		cogs = cogs.Add(lineCOGS)
		priced = append(priced, pricedLine{line: l, product: product, unit: unit, baseQty: baseQty, lineTotal: lineTotal, lineCOGS: lineCOGS})
	}
	return priced, total, cogs, nil
}

// moveStock locks all touched inventory rows in one batch, applies the
// mutation per line, and writes a movement audit row each.
func (s *Service) moveStock(ctx context.Context, tx TxRepository, rc shared.RequestContext, warehouseID int64, priced []pricedLine, outbound bool, movementType inventory.MovementType, refType string, refID int64, at time.Time) error {
	keys := make([]inventory.Key, 0, len(priced))
	seen := make(map[inventory.Key]bool, len(priced))
	for _, p := range priced {
		key := inventory.Key{ProductID: p.line.ProductID, WarehouseID: warehouseID}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	items, err := tx.LockInventory(ctx, rc.CompanyID, keys)
	if err != nil {
		return err
	}
	for _, p := range priced {
		key := inventory.Key{ProductID: p.line.ProductID, WarehouseID: warehouseID}
		item, ok := items[key]
		if !ok {
			if outbound {
				return fmt.Errorf("%w: product %d warehouse %d has no stock row",
					inventory.ErrInsufficientStock, key.ProductID, key.WarehouseID)
			}
			item = inventory.Item{CompanyID: rc.CompanyID, ProductID: key.ProductID, WarehouseID: key.WarehouseID}
		}
		before := item.StockQty
		if outbound {
			err = item.ApplyOutbound(p.baseQty)
		} else {
			err = item.ApplyInbound(p.baseQty)
		}
		if err != nil {
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
			Type:          movementType,
			Qty:           p.baseQty,
			BeforeQty:     before,
			AfterQty:      saved.StockQty,
			ReferenceType: refType,
			ReferenceID:   refID,
			CreatedBy:     rc.UserID,
			CreatedAt:     at,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessSale commits one sale as a single atomic unit: stock check and
// decrement, invoice and lines, customer balances, receipt voucher, and the
// sale journal event. The event is posted best-effort after commit.
func (s *Service) ProcessSale(ctx context.Context, rc shared.RequestContext, input SaleInput) (SaleResult, error) {
	if !rc.Valid() {
		return SaleResult{}, shared.ErrNoRequestContext
	}
	if len(input.Lines) == 0 {
		return SaleResult{}, ErrEmptyCart
	}
	currency, rate, err := s.normalizeCurrency(input.Currency, input.ExchangeRate)
	if err != nil {
		return SaleResult{}, err
	}
	priced, total, cogs, err := s.priceCart(ctx, rc.CompanyID, input.Lines)
	if err != nil {
		return SaleResult{}, err
	}
	tendered := input.Tendered.Mul(rate)
	if tendered.IsNegative() {
		return SaleResult{}, ErrInvalidPayment
	}
	paid := decimal.Min(tendered, total)
	change := tendered.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}
	due := AmountDueOf(total, paid)
	status := DeriveStatus(total, paid)
	if due.IsPositive() && input.CustomerID == nil {
		return SaleResult{}, ErrCustomerRequired
	}

	now := s.now().UTC()
	var result SaleResult
	var eventID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextInvoiceNumber(ctx, rc.CompanyID, sequence.KindSaleInvoice, now.Year())
		if err != nil {
			return err
		}
		invoice := Invoice{
			CompanyID:       rc.CompanyID,
			InvoiceNumber:   number,
			SaleType:        TypeSale,
			CustomerID:      input.CustomerID,
			WarehouseID:     input.WarehouseID,
			TotalAmount:     total,
			AmountPaid:      paid,
			AmountDue:       due,
			ChangeGiven:     change,
			TotalCOGS:       cogs,
			Status:          status,
			PaymentMethod:   input.Method,
			Currency:        currency,
			ExchangeRate:    rate,
			ForeignTendered: input.Tendered,
			CreatedBy:       rc.UserID,
			CreatedAt:       now,
		}
		invoiceID, err := tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		items := make([]InvoiceItem, 0, len(priced))
		for _, p := range priced {
			items = append(items, InvoiceItem{
				InvoiceID:    invoiceID,
				ProductID:    p.line.ProductID,
				UnitID:       p.unit.ID,
				UnitName:     p.unit.Name,
				Quantity:     p.line.Quantity,
				BaseQuantity: p.baseQty,
				UnitPrice:    p.unit.Price,
				TotalPrice:   p.lineTotal,
				UnitCost:     p.product.CostPrice,
			})
		}
		if err := tx.InsertItems(ctx, invoiceID, items); err != nil {
			return err
		}
		if err := s.moveStock(ctx, tx, rc, input.WarehouseID, priced, true, inventory.MovementOutgoingSale, "invoice", invoiceID, now); err != nil {
			return err
		}
		if input.CustomerID != nil {
			if _, err := tx.GetCustomerForUpdate(ctx, rc.CompanyID, *input.CustomerID); err != nil {
				return err
			}
			if due.IsPositive() || change.IsPositive() {
				if err := tx.ApplyCustomerBalances(ctx, *input.CustomerID, change, due); err != nil {
					return err
				}
			}
		}
		if paid.IsPositive() {
			if _, err := tx.InsertVoucher(ctx, treasury.Voucher{
				CompanyID:     rc.CompanyID,
				Type:          treasury.VoucherReceipt,
				Amount:        paid,
				Currency:      currency,
				ExchangeRate:  rate,
				ForeignAmount: input.Tendered,
				Method:        input.Method,
				InvoiceID:     &invoiceID,
				CustomerID:    input.CustomerID,
				CreatedBy:     rc.UserID,
			}, now); err != nil {
				return err
			}
		}
		foreignTotal := decimal.Zero
		if currency != s.baseCurrency {
			foreignTotal = input.Tendered
		}
		event, err := ledger.NewEvent(rc.CompanyID, ledger.EventSale, "invoice", invoiceID, ledger.SalePayload{
			InvoiceID:     invoiceID,
			InvoiceNumber: number,
			CustomerID:    input.CustomerID,
			Total:         total,
			Paid:          paid,
			Change:        change,
			COGS:          cogs,
			Method:        input.Method,
			Currency:      currency,
			ExchangeRate:  rate,
			ForeignTotal:  foreignTotal,
		})
		if err != nil {
			return err
		}
		if eventID, err = tx.AppendEvent(ctx, event); err != nil {
			return err
		}
		result = SaleResult{
			InvoiceID:     invoiceID,
			InvoiceNumber: number,
			Status:        status,
			Total:         total,
			Paid:          paid,
			Change:        change,
			Due:           due,
		}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	s.postAfterCommit(ctx, eventID)
	s.recordAudit(ctx, rc, "sale.commit", "invoice", result.InvoiceID, map[string]any{
		"invoice_number": result.InvoiceNumber,
		"total":          result.Total.String(),
		"status":         string(result.Status),
	})
	return result, nil
}

// ReturnLine is one returned line in the unit the customer returns.
type ReturnLine struct {
	ProductID int64
	UnitID    string
	Quantity  decimal.Decimal
}

// ReturnInput describes a return against an existing sale invoice.
type ReturnInput struct {
	OriginalInvoiceID int64
	Lines             []ReturnLine
	Method            string
}

// ReturnResult reports the committed return.
type ReturnResult struct {
	ReturnInvoiceID     int64
	ReturnInvoiceNumber string
	Subtotal            decimal.Decimal
	RefundFromAR        decimal.Decimal
	RefundFromCash      decimal.Decimal
}

// ProcessReturn commits a return against an existing sale. Quantities are
// validated against what remains returnable per product; the refund first
// offsets the customer's outstanding due and pays the remainder in cash.
func (s *Service) ProcessReturn(ctx context.Context, rc shared.RequestContext, input ReturnInput) (ReturnResult, error) {
	if !rc.Valid() {
		return ReturnResult{}, shared.ErrNoRequestContext
	}
	if len(input.Lines) == 0 {
		return ReturnResult{}, ErrEmptyCart
	}
	ids := make([]int64, 0, len(input.Lines))
	for _, l := range input.Lines {
		if !l.Quantity.IsPositive() {
			return ReturnResult{}, fmt.Errorf("sales: product %d: %w", l.ProductID, inventory.ErrInvalidQuantity)
		}
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, rc.CompanyID, ids)
	if err != nil {
		return ReturnResult{}, err
	}

	now := s.now().UTC()
	var result ReturnResult
	var eventID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetInvoiceForUpdate(ctx, rc.CompanyID, input.OriginalInvoiceID)
		if err != nil {
			return err
		}
		if original.SaleType != TypeSale {
			return ErrNotReturnable
		}
		soldItems, err := tx.InvoiceItemsOf(ctx, original.ID)
		if err != nil {
			return err
		}
		soldByProduct := make(map[int64]InvoiceItem, len(soldItems))
		for _, it := range soldItems {
			soldByProduct[it.ProductID] = it
		}
		alreadyReturned, err := tx.ReturnedBaseQuantities(ctx, original.ID)
		if err != nil {
			return err
		}

		var subtotal, cogs decimal.Decimal
		priced := make([]pricedLine, 0, len(input.Lines))
		returnItems := make([]InvoiceItem, 0, len(input.Lines))
		for _, l := range input.Lines {
			sold, ok := soldByProduct[l.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d in invoice %s", ErrProductNotInSale, l.ProductID, original.InvoiceNumber)
			}
			product := products[l.ProductID]
			unit, err := product.Unit(l.UnitID)
			if err != nil {
				return fmt.Errorf("sales: product %d: %w", l.ProductID, err)
			}
			baseQty, err := catalog.ToBaseQuantity(l.Quantity, l.UnitID, product.SellingUnits)
			if err != nil {
				return err
			}
			returnable := sold.BaseQuantity.Sub(alreadyReturned[l.ProductID])
			if baseQty.GreaterThan(returnable) {
				return fmt.Errorf("%w: product %d has %s base units returnable, got %s",
					ErrReturnExceedsSold, l.ProductID, returnable, baseQty)
			}
			// Value the return at the original per-base-unit price so a
			// different return unit cannot change the refund.
			perBasePrice := sold.TotalPrice.Div(sold.BaseQuantity)
			lineValue := perBasePrice.Mul(baseQty)
			lineCOGS := sold.UnitCost.Mul(baseQty)
			subtotal = subtotal.Add(lineValue)
			cogs = cogs.Add(lineCOGS)
			priced = append(priced, pricedLine{line: SaleLine(l), product: product, unit: unit, baseQty: baseQty, lineTotal: lineValue, lineCOGS: lineCOGS})
			returnItems = append(returnItems, InvoiceItem{
				ProductID:    l.ProductID,
				UnitID:       unit.ID,
				UnitName:     unit.Name,
				Quantity:     l.Quantity,
				BaseQuantity: baseQty,
				UnitPrice:    unit.Price,
				TotalPrice:   lineValue,
				UnitCost:     sold.UnitCost,
			})
		}

		refundFromAR := decimal.Min(subtotal, original.AmountDue)
		refundFromCash := subtotal.Sub(refundFromAR)

		number, err := tx.NextInvoiceNumber(ctx, rc.CompanyID, sequence.KindReturnInvoice, now.Year())
		if err != nil {
			return err
		}
		returnInvoice := Invoice{
			CompanyID:      rc.CompanyID,
			InvoiceNumber:  number,
			SaleType:       TypeReturnSale,
			CustomerID:     original.CustomerID,
			WarehouseID:    original.WarehouseID,
			OriginalSaleID: &original.ID,
			TotalAmount:    subtotal,
			AmountPaid:     subtotal,
			AmountDue:      decimal.Zero,
			TotalCOGS:      cogs,
			Status:         StatusCompleted,
			PaymentMethod:  input.Method,
			Currency:       original.Currency,
			ExchangeRate:   original.ExchangeRate,
			CreatedBy:      rc.UserID,
			CreatedAt:      now,
		}
		returnID, err := tx.InsertInvoice(ctx, returnInvoice)
		if err != nil {
			return err
		}
		for i := range returnItems {
			returnItems[i].InvoiceID = returnID
		}
		if err := tx.InsertItems(ctx, returnID, returnItems); err != nil {
			return err
		}
		if err := s.moveStock(ctx, tx, rc, original.WarehouseID, priced, false, inventory.MovementIncomingReturn, "invoice", returnID, now); err != nil {
			return err
		}
		if refundFromAR.IsPositive() {
			newPaid := original.AmountPaid.Add(refundFromAR)
			newDue := AmountDueOf(original.TotalAmount, newPaid)
			if err := tx.UpdateInvoicePayment(ctx, original.ID, newPaid, newDue, DeriveStatus(original.TotalAmount, newPaid)); err != nil {
				return err
			}
			if original.CustomerID != nil {
				if err := tx.ApplyCustomerBalances(ctx, *original.CustomerID, decimal.Zero, refundFromAR.Neg()); err != nil {
					return err
				}
			}
		}
		if refundFromCash.IsPositive() {
			if _, err := tx.InsertVoucher(ctx, treasury.Voucher{
				CompanyID:    rc.CompanyID,
				Type:         treasury.VoucherPayment,
				Amount:       refundFromCash,
				Currency:     original.Currency,
				ExchangeRate: original.ExchangeRate,
				Method:       input.Method,
				InvoiceID:    &returnID,
				CustomerID:   original.CustomerID,
				Note:         fmt.Sprintf("Refund for %s", original.InvoiceNumber),
				CreatedBy:    rc.UserID,
			}, now); err != nil {
				return err
			}
		}
		event, err := ledger.NewEvent(rc.CompanyID, ledger.EventReturn, "invoice", returnID, ledger.ReturnPayload{
			ReturnInvoiceID:   returnID,
			OriginalInvoiceID: original.ID,
			CustomerID:        original.CustomerID,
			Subtotal:          subtotal,
			COGS:              cogs,
			RefundFromAR:      refundFromAR,
			RefundFromCash:    refundFromCash,
			Method:            input.Method,
			Currency:          original.Currency,
			ExchangeRate:      original.ExchangeRate,
		})
		if err != nil {
			return err
		}
		if eventID, err = tx.AppendEvent(ctx, event); err != nil {
			return err
		}
		result = ReturnResult{
			ReturnInvoiceID:     returnID,
			ReturnInvoiceNumber: number,
			Subtotal:            subtotal,
			RefundFromAR:        refundFromAR,
			RefundFromCash:      refundFromCash,
		}
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}
	s.postAfterCommit(ctx, eventID)
	s.recordAudit(ctx, rc, "sale.return", "invoice", result.ReturnInvoiceID, map[string]any{
		"original_invoice_id": input.OriginalInvoiceID,
		"subtotal":            result.Subtotal.String(),
	})
	return result, nil
}

// PaymentInput settles part of an open invoice.
type PaymentInput struct {
	Amount       decimal.Decimal
	Method       string
	Currency     string
	ExchangeRate decimal.Decimal
}

// RecordPayment applies a payment against an open sale invoice, updating the
// invoice, the customer's outstanding balance, a receipt voucher, and the
// payment journal event in one transaction.
func (s *Service) RecordPayment(ctx context.Context, rc shared.RequestContext, invoiceID int64, input PaymentInput) (Invoice, error) {
	if !rc.Valid() {
		return Invoice{}, shared.ErrNoRequestContext
	}
	currency, rate, err := s.normalizeCurrency(input.Currency, input.ExchangeRate)
	if err != nil {
		return Invoice{}, err
	}
	amount := input.Amount.Mul(rate)
	if !amount.IsPositive() {
		return Invoice{}, ErrInvalidPayment
	}

	now := s.now().UTC()
	var updated Invoice
	var eventID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoice, err := tx.GetInvoiceForUpdate(ctx, rc.CompanyID, invoiceID)
		if err != nil {
			return err
		}
		if invoice.SaleType != TypeSale {
			return ErrNotReturnable
		}
		if amount.GreaterThan(invoice.AmountDue) {
			return fmt.Errorf("%w: due %s, got %s", ErrOverpayment, invoice.AmountDue, amount)
		}
		newPaid := invoice.AmountPaid.Add(amount)
		newDue := AmountDueOf(invoice.TotalAmount, newPaid)
		status := DeriveStatus(invoice.TotalAmount, newPaid)
		if err := tx.UpdateInvoicePayment(ctx, invoice.ID, newPaid, newDue, status); err != nil {
			return err
		}
		if invoice.CustomerID != nil {
			if err := tx.ApplyCustomerBalances(ctx, *invoice.CustomerID, decimal.Zero, amount.Neg()); err != nil {
				return err
			}
		}
		if _, err := tx.InsertVoucher(ctx, treasury.Voucher{
			CompanyID:     rc.CompanyID,
			Type:          treasury.VoucherReceipt,
			Amount:        amount,
			Currency:      currency,
			ExchangeRate:  rate,
			ForeignAmount: input.Amount,
			Method:        input.Method,
			InvoiceID:     &invoice.ID,
			CustomerID:    invoice.CustomerID,
			Note:          fmt.Sprintf("Payment on %s", invoice.InvoiceNumber),
			CreatedBy:     rc.UserID,
		}, now); err != nil {
			return err
		}
		var counterparty int64
		if invoice.CustomerID != nil {
			counterparty = *invoice.CustomerID
		}
		event, err := ledger.NewEvent(rc.CompanyID, ledger.EventPayment, "invoice", invoice.ID, ledger.PaymentPayload{
			InvoiceID:      invoice.ID,
			CounterpartyID: counterparty,
			Direction:      ledger.PaymentReceivable,
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
		invoice.AmountPaid = newPaid
		invoice.AmountDue = newDue
		invoice.Status = status
		updated = invoice
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.postAfterCommit(ctx, eventID)
	s.recordAudit(ctx, rc, "invoice.payment", "invoice", invoiceID, map[string]any{
		"amount": amount.String(),
		"status": string(updated.Status),
	})
	return updated, nil
}

// GetInvoice returns one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, rc shared.RequestContext, invoiceID int64) (Invoice, []InvoiceItem, error) {
	if !rc.Valid() {
		return Invoice{}, nil, shared.ErrNoRequestContext
	}
	invoice, err := s.repo.GetInvoice(ctx, rc.CompanyID, invoiceID)
	if err != nil {
		return Invoice{}, nil, err
	}
	items, err := s.repo.GetInvoiceItems(ctx, invoice.ID)
	if err != nil {
		return Invoice{}, nil, err
	}
	return invoice, items, nil
}

// postAfterCommit posts the journal event best-effort. A failure here leaves
// the event pending or failed for the drain job; the sale stands either way.
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

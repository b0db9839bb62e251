package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adora-payments/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentStarter opens a payment session for a freshly created online order.
type PaymentStarter interface {
	Start(ctx context.Context, o *Order) error
}

type CheckoutItem struct {
	ProductID int64
	Quantity  int
}

type CheckoutInput struct {
	ProfileID        int64
	ReceiverName     string
	ReceiverPhone    string
	DeliveryAddress  string
	Description      string
	DeliveryCost     decimal.Decimal
	UseWalletBalance bool
	PaymentMethod    PaymentMethod
	PaymentReference Gateway
	Items            []CheckoutItem
}

// startTimeout bounds a payment start running after its checkout request
// has returned.
const startTimeout = 2 * time.Minute

type Service interface {
	Checkout(ctx context.Context, in CheckoutInput) (*Order, error)
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Order, error)
	// Wait blocks until every payment start dispatched by Checkout returned.
	Wait()
}

type service struct {
	repo     Repository
	catalog  Catalog
	tracking TrackingGenerator
	payments PaymentStarter
	starts   sync.WaitGroup
}

func NewService(repo Repository, catalog Catalog, tracking TrackingGenerator, payments PaymentStarter) Service {
	return &service{
		repo:     repo,
		catalog:  catalog,
		tracking: tracking,
		payments: payments,
	}
}

func (s *service) Checkout(ctx context.Context, in CheckoutInput) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Checkout"),
		zap.Int64("profile_id", in.ProfileID),
		zap.String("gateway", string(in.PaymentReference)),
	)

	if len(in.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentOnline
	}
	if in.PaymentMethod == PaymentOnline && !in.PaymentReference.Valid() {
		return nil, ErrUnknownGateway
	}

	ids := make([]int64, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, it.ProductID)
	}

	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		log.Error("failed to load products", zap.Error(err))
		return nil, err
	}

	cashDiscount := decimal.Zero
	if in.PaymentReference == GatewayZarinpal {
		if cashDiscount, err = s.catalog.CashDiscountPercent(ctx); err != nil {
			log.Error("failed to load cash discount", zap.Error(err))
			return nil, err
		}
	}

	o := &Order{
		ProfileID:        in.ProfileID,
		ReceiverName:     in.ReceiverName,
		ReceiverPhone:    in.ReceiverPhone,
		DeliveryAddress:  in.DeliveryAddress,
		Description:      in.Description,
		DeliveryCost:     in.DeliveryCost,
		UseWalletBalance: in.UseWalletBalance,
		PaymentMethod:    in.PaymentMethod,
		PaymentReference: in.PaymentReference,
		PaymentStatus:    StatusPending,
		OrderReward:      decimal.Zero,
	}

	for _, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, it.ProductID)
		}
		o.Items = append(o.Items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Quantity:  it.Quantity,
			SoldPrice: SoldPrice(p, in.PaymentReference, cashDiscount),
		})
		o.OrderReward = o.OrderReward.Add(Reward(p, it.Quantity))
	}
	o.TotalPrice = ItemsTotal(o.Items).Add(in.DeliveryCost)

	if o.TrackingNumber, err = uniqueTrackingNumber(ctx, s.tracking, s.repo); err != nil {
		log.Error("failed to allocate tracking number", zap.Error(err))
		return nil, err
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	log = log.With(zap.String("tracking_number", o.TrackingNumber))
	log.Info("checkout completed", zap.String("total_price", o.TotalPrice.String()))

	// The outcome of starting the payment lands on the receipt; the client
	// polls it through the payment info endpoint.
	if o.PaymentMethod == PaymentOnline && s.payments != nil {
		s.start(ctx, log, *o)
	}

	return o, nil
}

func (s *service) start(ctx context.Context, log *zap.Logger, o Order) {
	s.starts.Add(1)
	go func() {
		defer s.starts.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), startTimeout)
		defer cancel()
		if err := s.payments.Start(ctx, &o); err != nil {
			log.Warn("payment initiation failed", zap.Error(err))
		}
	}()
}

func (s *service) Wait() {
	s.starts.Wait()
}

func (s *service) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Order, error) {
	return s.repo.GetByTrackingNumber(ctx, trackingNumber)
}

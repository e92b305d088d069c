package yookassa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rvinnie/yookassa-sdk-go/yookassa"
	yoocommon "github.com/rvinnie/yookassa-sdk-go/yookassa/common"
	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/rules"
	"github.com/ivankudzin/creditpay/internal/services/gateway"
)

type paymentAPI interface {
	Create(idempotencyKey string, payment *yoopayment.Payment) (*yoopayment.Payment, error)
	Find(externalID string) (*yoopayment.Payment, error)
}

type sdkAPI struct {
	client *yookassa.Client
}

func (a sdkAPI) Create(idempotencyKey string, payment *yoopayment.Payment) (*yoopayment.Payment, error) {
	return yookassa.NewPaymentHandler(a.client).WithIdempotencyKey(idempotencyKey).CreatePayment(payment)
}

func (a sdkAPI) Find(externalID string) (*yoopayment.Payment, error) {
	return yookassa.NewPaymentHandler(a.client).FindPayment(externalID)
}

// Provider adapts the YooKassa SDK to gateway.Provider.
type Provider struct {
	api paymentAPI
}

func NewProvider(shopID, secretKey string) (*Provider, error) {
	shopID = strings.TrimSpace(shopID)
	secretKey = strings.TrimSpace(secretKey)
	if shopID == "" || secretKey == "" {
		return nil, fmt.Errorf("yookassa shop id and secret key are required")
	}
	return &Provider{api: sdkAPI{client: yookassa.NewClient(shopID, secretKey)}}, nil
}

func (p *Provider) CreatePayment(ctx context.Context, req gateway.CreateRequest) (gateway.Intent, error) {
	amount := &yoocommon.Amount{
		Value:    rules.FormatMinor(req.AmountMinor),
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	payment := &yoopayment.Payment{
		Amount: amount,
		Confirmation: yoopayment.Redirect{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Capture:     true,
		Description: describe(req),
	}

	created, err := withContext(ctx, func() (*yoopayment.Payment, error) {
		return p.api.Create(req.IdempotencyKey, payment)
	})
	if err != nil {
		return gateway.Intent{}, classify("create payment", err)
	}
	return toIntent(created)
}

func (p *Provider) GetPayment(ctx context.Context, externalID string) (gateway.Intent, error) {
	found, err := withContext(ctx, func() (*yoopayment.Payment, error) {
		return p.api.Find(externalID)
	})
	if err != nil {
		return gateway.Intent{}, classify("find payment", err)
	}
	return toIntent(found)
}

func describe(req gateway.CreateRequest) string {
	if strings.TrimSpace(req.Description) != "" {
		return req.Description
	}
	return "Credits " + req.ProductKey + " for user " + strconv.FormatInt(req.UserID, 10)
}

func toIntent(payment *yoopayment.Payment) (gateway.Intent, error) {
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return gateway.Intent{}, fmt.Errorf("%w: empty payment in response", gateway.ErrGatewayRejected)
	}

	status, ok := enums.ParsePaymentStatus(string(payment.Status))
	if !ok {
		return gateway.Intent{}, fmt.Errorf("%w: unknown payment status %q", gateway.ErrGatewayRejected, payment.Status)
	}

	intent := gateway.Intent{
		ExternalID:      payment.ID,
		ConfirmationURL: confirmationURL(payment.Confirmation),
		Status:          status,
	}
	if payment.Amount != nil {
		minor, err := rules.ParseMinor(payment.Amount.Value)
		if err != nil {
			return gateway.Intent{}, fmt.Errorf("%w: %v", gateway.ErrGatewayRejected, err)
		}
		intent.AmountMinor = minor
		intent.Currency = payment.Amount.Currency
	}
	return intent, nil
}

func confirmationURL(raw interface{}) string {
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return ""
	}
	u, _ := fields["confirmation_url"].(string)
	return u
}

// transientReply matches provider answers that mean "try again": rate
// limiting and 5xx. The SDK surfaces these only as error text.
var transientReply = regexp.MustCompile(`(?i)too[_ ]many[_ ]requests|internal[_ ]server[_ ]error|bad[_ ]gateway|service[_ ]unavailable|gateway[_ ]timeout|(status|code)\W{0,3}(429|5\d\d)\b`)

// classify maps network failures, throttling and provider 5xx answers to
// ErrGatewayUnavailable. Any other provider answer is a rejection.
func classify(op string, err error) error {
	var (
		urlErr *url.Error
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &urlErr),
		errors.As(err, &netErr),
		transientReply.MatchString(err.Error()):
		return fmt.Errorf("yookassa %s: %w: %v", op, gateway.ErrGatewayUnavailable, err)
	default:
		return fmt.Errorf("yookassa %s: %w: %v", op, gateway.ErrGatewayRejected, err)
	}
}

func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-done:
		return res.value, res.err
	}
}
